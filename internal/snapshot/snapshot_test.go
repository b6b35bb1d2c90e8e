package snapshot

import (
	"testing"

	"github.com/jackyliao123/ca3d/internal/world"
)

func TestParseKeyRoundTrip(t *testing.T) {
	s := New(nil, "ca3d:chunk:")
	want := world.Pos{X: -3, Y: 0, Z: 31}
	pos, err := s.parseKey(s.key(want))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if pos != want {
		t.Fatalf("key round-tripped to %v, want %v", pos, want)
	}
}

func TestParseKeyRejectsMalformedKeys(t *testing.T) {
	s := New(nil, "ca3d:chunk:")
	bad := []string{
		"ca3d:chunk:1:2",       // missing coordinate
		"ca3d:chunk:1:2:3:4",   // extra coordinate
		"ca3d:chunk:1:2:3x",    // trailing garbage
		"ca3d:chunk:a:2:3",     // non-numeric
		"ca3d:chunk:1:2:",      // empty coordinate
		"ca3d:chunk:100:0:0",   // outside world bounds
		"ca3d:chunk:0:-100:0",  // outside world bounds
		"ca3d:chunk:5000000000:0:0", // overflows int32
	}
	for _, key := range bad {
		if _, err := s.parseKey(key); err == nil {
			t.Fatalf("key %q parsed without error", key)
		}
	}
}
