package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/jackyliao123/ca3d/internal/config"
	"github.com/jackyliao123/ca3d/internal/store"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.TickRate = 20
	cfg.World.ChunksPerGroup = 4
	cfg.World.SeedDensity = 10000
	cfg.Simulation.Iterations = 1
	session, err := NewSession("test", cfg, store.NewMemoryDevice(), nil)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	session := newTestSession(t)
	srv := &Server{session: session}

	upgrader := websocket.Upgrader{}
	done := make(chan struct{})
	defer close(done)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-done
		ws.Close()
	}))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	conn := NewConnection(ws, srv)
	session.AddConnection(conn)

	// Server shutdown and the read pump both close the connection; the
	// second call must be a no-op, not a double channel close.
	conn.Close()
	conn.Close()
}
