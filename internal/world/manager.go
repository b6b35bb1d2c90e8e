package world

import (
	"fmt"

	"github.com/jackyliao123/ca3d/internal/store"
)

// txState is the frame transaction state. Structural mutations move the
// manager to txDirty; Finalize is the only way back to txClean, and all
// offset-dependent reads require txClean.
type txState int

const (
	txClean txState = iota
	txDirty
)

// Manager owns the set of resident chunks. Inserts and removes batch up
// within a frame; Finalize applies them in one pass, assigning offsets
// to new chunks, relocating payloads displaced by compaction, growing
// backing storage, and refreshing the atlas. Offsets are stable from
// one Finalize to the next structural mutation.
//
// Manager is not safe for concurrent use; the frame loop is the single
// owner.
type Manager struct {
	chunks       map[Pos]*Chunk
	tracker      *offsetTracker
	atlasUpdates map[Pos]struct{}
	datastore    *store.Datastore
	state        txState
	which        uint32
}

// NewManager creates an empty manager over the given device.
func NewManager(dev store.Device, chunksPerGroup uint32) (*Manager, error) {
	datastore, err := store.NewDatastore(dev, chunksPerGroup)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	return &Manager{
		chunks:       make(map[Pos]*Chunk),
		tracker:      newOffsetTracker(),
		atlasUpdates: make(map[Pos]struct{}),
		datastore:    datastore,
	}, nil
}

// mustClean guards offset-dependent reads. Calling them while mutations
// are pending would observe a half-applied frame.
func (m *Manager) mustClean(op string) {
	if m.state != txClean {
		panic(fmt.Sprintf("world: %s called before Finalize", op))
	}
}

// Insert adds a chunk at pos. The chunk gets no residency binding until
// the next Finalize; inserting a position that is already resident is a
// caller bug.
func (m *Manager) Insert(pos Pos) {
	if _, ok := m.chunks[pos]; ok {
		panic(fmt.Sprintf("world: chunk %v already exists", pos))
	}
	m.state = txDirty
	chunk := &Chunk{Pos: pos}
	for _, d := range neighborhood {
		if neighbor, ok := m.chunks[pos.Add(d)]; ok {
			neighbor.Neighbors++
			chunk.Neighbors++
		}
	}
	m.atlasUpdates[pos] = struct{}{}
	m.chunks[pos] = chunk
}

// Remove deletes the chunk at pos, releasing its logical index so the
// freed offset can be compacted at the next Finalize. Returns the
// removed record with its neighbor count zeroed.
func (m *Manager) Remove(pos Pos) Chunk {
	chunk, ok := m.chunks[pos]
	if !ok {
		panic(fmt.Sprintf("world: chunk %v not found", pos))
	}
	if !chunk.Bound() {
		panic(fmt.Sprintf("world: chunk %v offset not tracked", pos))
	}
	m.state = txDirty
	delete(m.chunks, pos)
	m.tracker.release(chunk.res.index)
	for _, d := range neighborhood {
		if neighbor, ok := m.chunks[pos.Add(d)]; ok {
			neighbor.Neighbors--
		}
	}
	m.atlasUpdates[pos] = struct{}{}
	removed := *chunk
	removed.Neighbors = 0
	return removed
}

// Contains reports whether a chunk is resident at pos. Valid in any
// transaction state.
func (m *Manager) Contains(pos Pos) bool {
	_, ok := m.chunks[pos]
	return ok
}

// Len returns the number of resident chunks. Valid in any state.
func (m *Manager) Len() int {
	return len(m.chunks)
}

// Dirty reports whether structural mutations are pending.
func (m *Manager) Dirty() bool {
	return m.state == txDirty
}

// Offset returns the physical offset of the chunk at pos.
func (m *Manager) Offset(pos Pos) uint32 {
	m.mustClean("Offset")
	chunk, ok := m.chunks[pos]
	if !ok {
		panic(fmt.Sprintf("world: chunk %v not found", pos))
	}
	return chunk.Offset()
}

// Neighbors returns the neighbor count of the chunk at pos. Valid in
// any state; neighbor counts are maintained eagerly.
func (m *Manager) Neighbors(pos Pos) uint32 {
	chunk, ok := m.chunks[pos]
	if !ok {
		panic(fmt.Sprintf("world: chunk %v not found", pos))
	}
	return chunk.Neighbors
}

// NumOffsets returns the occupied offset count.
func (m *Manager) NumOffsets() uint32 {
	m.mustClean("NumOffsets")
	return uint32(m.tracker.count())
}

// ForEach visits every resident chunk with its current offset.
func (m *Manager) ForEach(fn func(pos Pos, neighbors, offset uint32)) {
	m.mustClean("ForEach")
	for _, chunk := range m.chunks {
		fn(chunk.Pos, chunk.Neighbors, chunk.res.offset)
	}
}

// Upload overwrites the current parity slot of the chunk at pos.
func (m *Manager) Upload(pos Pos, cells []uint32) {
	m.mustClean("Upload")
	chunk, ok := m.chunks[pos]
	if !ok {
		panic(fmt.Sprintf("world: chunk %v not found", pos))
	}
	m.datastore.Upload(chunk.Offset(), m.which, cells)
}

// ReadPayload reads the current parity slot of the chunk at pos back to
// the host, when the device supports it.
func (m *Manager) ReadPayload(pos Pos) ([]uint32, error) {
	m.mustClean("ReadPayload")
	chunk, ok := m.chunks[pos]
	if !ok {
		panic(fmt.Sprintf("world: chunk %v not found", pos))
	}
	return m.datastore.ReadPayload(chunk.Offset(), m.which)
}

// Finalize applies all pending structural changes: relocation copies
// for chunks displaced by compaction, fresh bindings for new chunks,
// backing storage growth, and atlas refreshes. A clean manager
// finalizes to a no-op. The only failure is storage growth, which
// leaves the transaction dirty for the caller to retry or abort.
func (m *Manager) Finalize() error {
	if m.state == txClean {
		return nil
	}

	// Relocations implied by removals since the last finalize: any
	// bound chunk whose canonical offset moved gets one payload copy
	// from its previously recorded offset. Sources are all at or above
	// the new occupied count and destinations below it, so the copies
	// never alias and may land in any order.
	type move struct {
		from, to uint32
	}
	var moves []move
	for _, chunk := range m.chunks {
		if !chunk.Bound() {
			continue
		}
		offset := m.tracker.offsetOf(chunk.res.index)
		if offset != chunk.res.offset {
			moves = append(moves, move{from: chunk.res.offset, to: offset})
			chunk.res.offset = offset
			m.atlasUpdates[chunk.Pos] = struct{}{}
		}
	}
	if len(moves) > 0 {
		enc := m.datastore.BeginRelocation()
		for _, mv := range moves {
			m.datastore.Relocate(enc, mv.from, mv.to)
		}
		m.datastore.Submit(enc)
	}

	for _, chunk := range m.chunks {
		if !chunk.Bound() {
			index := m.tracker.allocate()
			chunk.res = &residency{index: index, offset: m.tracker.offsetOf(index)}
		}
	}

	if err := m.datastore.EnsureSize(uint32(m.tracker.count())); err != nil {
		return fmt.Errorf("world: grow backing store: %w", err)
	}

	for pos := range m.atlasUpdates {
		if chunk, ok := m.chunks[pos]; ok {
			m.datastore.UpdateAtlas(pos.X, pos.Y, pos.Z, chunk.res.offset+1)
		} else {
			m.datastore.UpdateAtlas(pos.X, pos.Y, pos.Z, 0)
		}
		delete(m.atlasUpdates, pos)
	}

	m.state = txClean
	return nil
}

// Which returns the current double-buffer parity bit.
func (m *Manager) Which() uint32 {
	return m.which
}

// AdvanceWhich flips the parity bit amount times. The simulation stage
// calls this after each dispatch batch; it is independent of the
// transaction state.
func (m *Manager) AdvanceWhich(amount uint32) {
	m.which = (m.which + amount) % 2
}

// ChunksPerGroup returns the per-group chunk capacity.
func (m *Manager) ChunksPerGroup() uint32 {
	return m.datastore.ChunksPerGroup()
}

// OffsetToGroupAndOrigin resolves an offset to its group index and
// within-group origin in chunk units.
func (m *Manager) OffsetToGroupAndOrigin(offset uint32) (uint32, uint32) {
	return m.datastore.OffsetToGroupAndOrigin(offset)
}

// Binding returns the current fixed-arity storage view. Stale after any
// growth; re-fetch after Finalize.
func (m *Manager) Binding(readWrite bool) *store.Binding {
	return m.datastore.Binding(readWrite)
}

// Datastore exposes the backing store coordinator to collaborating
// stages.
func (m *Manager) Datastore() *store.Datastore {
	return m.datastore
}
