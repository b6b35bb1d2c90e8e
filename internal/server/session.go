package server

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/jackyliao123/ca3d/internal/config"
	"github.com/jackyliao123/ca3d/internal/network"
	"github.com/jackyliao123/ca3d/internal/sim"
	"github.com/jackyliao123/ca3d/internal/snapshot"
	"github.com/jackyliao123/ca3d/internal/store"
	"github.com/jackyliao123/ca3d/internal/world"
)

// editKind discriminates queued world edits.
type editKind int

const (
	editAdd editKind = iota
	editRemove
	editUpload
	editQuery
	editSimControl
	editSave
	editLoad
)

// edit is one queued operation against the world. All world access
// happens on the frame loop goroutine; connections only enqueue.
type edit struct {
	kind   editKind
	pos    world.Pos
	cells  []uint32
	simCtl network.SimControlPayload
	reply  *Connection
}

// Session owns the world and its frame loop. Edits from control
// connections batch up in a queue and apply at the top of each frame,
// followed by one finalize, the deferred uploads and queries, and one
// simulation pass, in that order. Offsets are stable for the rest of
// the frame.
type Session struct {
	ID        string
	CreatedAt time.Time

	mgr       *world.Manager
	simulate  *sim.Simulate
	snapshots *snapshot.Store // nil when persistence is disabled

	edits chan edit

	connections map[*Connection]bool
	mu          sync.RWMutex

	frameCount uint64
	status     network.WorldStatus
	statusMu   sync.RWMutex

	config *config.Config
}

// NewSession creates a session with a freshly seeded world.
func NewSession(id string, cfg *config.Config, dev store.Device, snapshots *snapshot.Store) (*Session, error) {
	log.Printf("Creating session: %s", id)

	mgr, err := world.NewManager(dev, cfg.World.ChunksPerGroup)
	if err != nil {
		return nil, err
	}

	simulate := sim.New()
	simulate.Iterations = uint32(cfg.Simulation.Iterations)
	simulate.Paused = cfg.Simulation.StartPaused

	s := &Session{
		ID:          id,
		CreatedAt:   time.Now(),
		mgr:         mgr,
		simulate:    simulate,
		snapshots:   snapshots,
		edits:       make(chan edit, 1024),
		connections: make(map[*Connection]bool),
		config:      cfg,
	}

	if err := s.seedWorld(); err != nil {
		return nil, err
	}

	log.Printf("Session %s created with %d chunks", id, mgr.Len())
	return s, nil
}

// seedWorld inserts the initial cube of chunks and sprinkles random
// live cells through their payloads.
func (s *Session) seedWorld() error {
	n := s.config.World.InitialCube
	if n <= 0 {
		s.refreshStatus()
		return nil
	}

	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				s.mgr.Insert(world.Pos{X: int32(x), Y: int32(y), Z: int32(z)})
			}
		}
	}
	if err := s.mgr.Finalize(); err != nil {
		return fmt.Errorf("seed world: %w", err)
	}

	density := s.config.World.SeedDensity
	cells := make([]uint32, store.PayloadCells)
	s.mgr.ForEach(func(pos world.Pos, neighbors, offset uint32) {
		for i := range cells {
			if rand.Intn(density) == 0 {
				cells[i] = rand.Uint32()
			} else {
				cells[i] = 0
			}
		}
		s.mgr.Upload(pos, cells)
	})

	s.refreshStatus()
	return nil
}

// Enqueue queues an edit for the next frame. Returns false when the
// queue is full.
func (s *Session) Enqueue(e edit) bool {
	select {
	case s.edits <- e:
		return true
	default:
		return false
	}
}

// Run drives the frame loop until the context is cancelled.
func (s *Session) Run(ctx context.Context) {
	interval := time.Second / time.Duration(s.config.Server.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Session %s running at %d Hz", s.ID, s.config.Server.TickRate)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Session %s stopped after %d frames", s.ID, s.frameCount)
			return
		case <-ticker.C:
			s.frame()
		}
	}
}

// frame applies one frame: queued structural edits, one finalize, the
// deferred uploads and queries, snapshot requests, one simulation pass.
func (s *Session) frame() {
	var uploads, queries, snapshots []edit
	added := make(map[world.Pos]bool)

	// Drain the queue. Structural edits apply immediately; everything
	// that needs stable offsets waits for the finalize below.
drain:
	for {
		select {
		case e := <-s.edits:
			switch e.kind {
			case editAdd:
				if s.mgr.Contains(e.pos) {
					e.reply.SendError("chunk_exists", fmt.Sprintf("chunk %v already resident", e.pos))
					continue
				}
				if !e.pos.InAtlasRange() {
					e.reply.SendError("out_of_range", fmt.Sprintf("chunk %v outside world bounds", e.pos))
					continue
				}
				s.mgr.Insert(e.pos)
				added[e.pos] = true
			case editRemove:
				if !s.mgr.Contains(e.pos) {
					e.reply.SendError("chunk_missing", fmt.Sprintf("chunk %v not resident", e.pos))
					continue
				}
				if added[e.pos] {
					// Inserted earlier this same frame, so it has no
					// storage binding to release yet.
					e.reply.SendError("chunk_pending", fmt.Sprintf("chunk %v inserted this frame, remove next frame", e.pos))
					continue
				}
				s.mgr.Remove(e.pos)
			case editUpload:
				uploads = append(uploads, e)
			case editQuery:
				queries = append(queries, e)
			case editSimControl:
				s.applySimControl(e.simCtl)
			case editSave, editLoad:
				snapshots = append(snapshots, e)
			}
		default:
			break drain
		}
	}

	if err := s.mgr.Finalize(); err != nil {
		// Growth failure leaves the transaction dirty; drop this
		// frame's dependent work and retry next frame.
		log.Printf("Session %s finalize failed: %v", s.ID, err)
		for _, e := range uploads {
			e.reply.SendError("finalize_failed", err.Error())
		}
		for _, e := range queries {
			e.reply.SendError("finalize_failed", err.Error())
		}
		for _, e := range snapshots {
			e.reply.SendError("finalize_failed", err.Error())
		}
		return
	}

	for _, e := range uploads {
		if !s.mgr.Contains(e.pos) {
			e.reply.SendError("chunk_missing", fmt.Sprintf("chunk %v not resident", e.pos))
			continue
		}
		s.mgr.Upload(e.pos, e.cells)
	}

	for _, e := range queries {
		info := network.ChunkInfoPayload{Pos: e.pos}
		if s.mgr.Contains(e.pos) {
			info.Resident = true
			info.Neighbors = s.mgr.Neighbors(e.pos)
			info.Offset = s.mgr.Offset(e.pos)
		}
		e.reply.SendMessage(&network.ServerMessage{
			Type:    network.MsgTypeChunkInfo,
			Payload: info,
		})
	}

	for _, e := range snapshots {
		s.applySnapshot(e)
	}

	if s.mgr.Dirty() {
		// A failed snapshot load leaves the transaction open; the
		// finalize retries at the top of the next frame.
		s.frameCount++
		return
	}

	s.simulate.Update(s.mgr)

	s.frameCount++
	s.refreshStatus()
	s.broadcastStatus()
}

func (s *Session) applySimControl(ctl network.SimControlPayload) {
	if ctl.Paused != nil {
		s.simulate.Paused = *ctl.Paused
	}
	if ctl.Step {
		s.simulate.StepOnce()
	}
	if ctl.Iterations != nil && *ctl.Iterations > 0 {
		s.simulate.Iterations = uint32(*ctl.Iterations)
	}
}

func (s *Session) applySnapshot(e edit) {
	if s.snapshots == nil {
		e.reply.SendError("snapshots_disabled", "snapshot persistence is not enabled")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		action string
		count  int
		err    error
	)
	switch e.kind {
	case editSave:
		action = "save"
		count, err = s.snapshots.Save(ctx, s.mgr)
	case editLoad:
		action = "load"
		count, err = s.snapshots.Load(ctx, s.mgr)
	}
	if err != nil {
		log.Printf("Session %s snapshot %s failed: %v", s.ID, action, err)
		e.reply.SendError("snapshot_failed", err.Error())
		return
	}
	e.reply.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeSnapshot,
		Payload: network.SnapshotPayload{Action: action, Chunks: count},
	})
}

// refreshStatus caches the frame summary while offsets are stable.
func (s *Session) refreshStatus() {
	ds := s.mgr.Datastore()
	status := network.WorldStatus{
		Chunks:     s.mgr.Len(),
		Offsets:    s.mgr.NumOffsets(),
		Groups:     ds.GroupCount(),
		Capacity:   ds.Capacity(),
		Which:      s.mgr.Which(),
		Paused:     s.simulate.Paused,
		FrameCount: s.frameCount,
	}
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
}

// GetStatus returns the last finalized frame's world summary.
func (s *Session) GetStatus() network.WorldStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// AddConnection registers a control connection
func (s *Session) AddConnection(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[conn] = true
}

// RemoveConnection unregisters a control connection
func (s *Session) RemoveConnection(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, conn)
}

// broadcastStatus pushes the frame summary to every connection.
func (s *Session) broadcastStatus() {
	msg := &network.ServerMessage{
		Type:    network.MsgTypeWorldStatus,
		Payload: s.GetStatus(),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.connections {
		conn.SendMessage(msg)
	}
}
