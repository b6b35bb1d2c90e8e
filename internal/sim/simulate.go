// Package sim plans simulation dispatches over the resident chunk set.
// The transition rule itself runs on the execution device; this package
// produces the per-iteration dispatch parameters and owns the pause and
// single-step controls.
package sim

import (
	"math/bits"
	"math/rand"

	"github.com/jackyliao123/ca3d/internal/world"
)

// ChunkInfo is the per-offset entry of the dispatch table: the spatial
// position of the chunk living at that offset.
type ChunkInfo struct {
	Pos world.Pos
}

// Dispatch is one simulation iteration over every resident chunk.
type Dispatch struct {
	// RNG seeds the rule's per-iteration randomness.
	RNG uint32

	// ChunksPerGroupShift is log2 of the group capacity, letting the
	// rule resolve offset -> group with a shift.
	ChunksPerGroupShift uint32

	// StartingWhich is the parity slot read by this iteration. It
	// alternates across iterations within one pass.
	StartingWhich uint32

	// NumChunks is the occupied offset count covered by the dispatch.
	NumChunks uint32
}

// Pass is the work plan of one frame's simulation: a dispatch table
// indexed by physical offset plus one Dispatch per iteration.
type Pass struct {
	ChunkInfo  []ChunkInfo
	Dispatches []Dispatch
}

// Simulate owns the simulation controls.
type Simulate struct {
	// Iterations per frame.
	Iterations uint32

	// Paused suppresses planning; StepOnce queues single frames
	// through regardless.
	Paused bool

	step uint32
}

// New creates a simulate stage running one iteration per frame.
func New() *Simulate {
	return &Simulate{Iterations: 1}
}

// StepOnce queues one frame of simulation while paused.
func (s *Simulate) StepOnce() {
	s.step = 1
}

// Update plans this frame's simulation over the manager's resident
// chunks and advances the parity bit by the iteration count. Returns
// nil when paused with no step queued. The manager must be clean.
func (s *Simulate) Update(mgr *world.Manager) *Pass {
	if s.Paused && s.step == 0 {
		return nil
	}
	if s.step > 0 {
		s.step--
	}

	pass := &Pass{
		ChunkInfo: make([]ChunkInfo, mgr.NumOffsets()),
	}
	mgr.ForEach(func(pos world.Pos, neighbors, offset uint32) {
		pass.ChunkInfo[offset] = ChunkInfo{Pos: pos}
	})

	// Group capacity is a power of two, enforced by the datastore.
	shift := uint32(bits.TrailingZeros32(mgr.ChunksPerGroup()))
	for i := uint32(0); i < s.Iterations; i++ {
		pass.Dispatches = append(pass.Dispatches, Dispatch{
			RNG:                 rand.Uint32(),
			ChunksPerGroupShift: shift,
			StartingWhich:       mgr.Which() ^ (i & 1),
			NumChunks:           mgr.NumOffsets(),
		})
	}

	mgr.AdvanceWhich(s.Iterations)
	return pass
}
