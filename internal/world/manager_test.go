package world

import (
	"math/rand"
	"testing"

	"github.com/jackyliao123/ca3d/internal/store"
)

func newTestManager(t *testing.T, chunksPerGroup uint32) (*Manager, *store.MemoryDevice) {
	t.Helper()
	dev := store.NewMemoryDevice()
	mgr, err := NewManager(dev, chunksPerGroup)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return mgr, dev
}

func finalize(t *testing.T, mgr *Manager) {
	t.Helper()
	if err := mgr.Finalize(); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
}

// collectOffsets returns the offset of every resident chunk.
func collectOffsets(mgr *Manager) map[Pos]uint32 {
	offsets := make(map[Pos]uint32)
	mgr.ForEach(func(pos Pos, neighbors, offset uint32) {
		offsets[pos] = offset
	})
	return offsets
}

func checkOffsetsDense(t *testing.T, mgr *Manager) {
	t.Helper()
	offsets := collectOffsets(mgr)
	seen := make(map[uint32]Pos)
	for pos, off := range offsets {
		if other, dup := seen[off]; dup {
			t.Fatalf("offset %d held by both %v and %v", off, pos, other)
		}
		seen[off] = pos
		if off >= uint32(len(offsets)) {
			t.Fatalf("offset %d outside dense range 0..%d", off, len(offsets))
		}
	}
	if mgr.NumOffsets() != uint32(len(offsets)) {
		t.Fatalf("NumOffsets %d but %d chunks resident", mgr.NumOffsets(), len(offsets))
	}
}

func TestInsertRemoveKeepsOffsetsDense(t *testing.T) {
	mgr, _ := newTestManager(t, 32)
	rng := rand.New(rand.NewSource(1))

	var live []Pos
	for frame := 0; frame < 20; frame++ {
		for i := 0; i < 5; i++ {
			pos := Pos{X: int32(rng.Intn(30) - 15), Y: int32(rng.Intn(30) - 15), Z: int32(rng.Intn(30) - 15)}
			if mgr.Contains(pos) {
				continue
			}
			mgr.Insert(pos)
			live = append(live, pos)
		}
		finalize(t, mgr)
		for i := 0; i < 3 && len(live) > 0; i++ {
			k := rng.Intn(len(live))
			mgr.Remove(live[k])
			live = append(live[:k], live[k+1:]...)
		}
		finalize(t, mgr)
		checkOffsetsDense(t, mgr)
	}
}

func TestNeighborCountsFullBlock(t *testing.T) {
	mgr, _ := newTestManager(t, 32)

	// Insert a 3x3x3 block in shuffled order; final counts must not
	// depend on insertion order.
	var block []Pos
	for x := int32(-1); x <= 1; x++ {
		for y := int32(-1); y <= 1; y++ {
			for z := int32(-1); z <= 1; z++ {
				block = append(block, Pos{X: x, Y: y, Z: z})
			}
		}
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(block), func(i, j int) { block[i], block[j] = block[j], block[i] })
	for _, pos := range block {
		mgr.Insert(pos)
	}
	finalize(t, mgr)

	if n := mgr.Neighbors(Pos{}); n != 26 {
		t.Fatalf("center of full block has %d neighbors, want 26", n)
	}
	if n := mgr.Neighbors(Pos{X: 1, Y: 1, Z: 1}); n != 7 {
		t.Fatalf("corner of full block has %d neighbors, want 7", n)
	}
	if n := mgr.Neighbors(Pos{X: 1, Y: 1, Z: 0}); n != 11 {
		t.Fatalf("edge of full block has %d neighbors, want 11", n)
	}

	// Remove a subset and re-check against resident neighbors.
	mgr.Remove(Pos{X: 1, Y: 0, Z: 0})
	mgr.Remove(Pos{X: -1, Y: -1, Z: -1})
	finalize(t, mgr)

	for _, pos := range block {
		if !mgr.Contains(pos) {
			continue
		}
		want := uint32(0)
		for _, d := range neighborhood {
			if mgr.Contains(pos.Add(d)) {
				want++
			}
		}
		if got := mgr.Neighbors(pos); got != want {
			t.Fatalf("chunk %v has %d neighbors, want %d", pos, got, want)
		}
	}
}

func TestRemoveRelocatesSurvivor(t *testing.T) {
	mgr, dev := newTestManager(t, 32)

	a := Pos{X: 0, Y: 0, Z: 0}
	b := Pos{X: 1, Y: 0, Z: 0}
	mgr.Insert(a)
	mgr.Insert(b)
	finalize(t, mgr)

	if mgr.Neighbors(a) != 1 || mgr.Neighbors(b) != 1 {
		t.Fatalf("expected both chunks to have 1 neighbor, got %d and %d", mgr.Neighbors(a), mgr.Neighbors(b))
	}
	offsets := collectOffsets(mgr)
	if offsets[a]+offsets[b] != 1 {
		t.Fatalf("expected offsets {0,1}, got %d and %d", offsets[a], offsets[b])
	}

	mgr.Remove(a)
	finalize(t, mgr)

	if n := mgr.Neighbors(b); n != 0 {
		t.Fatalf("survivor has %d neighbors, want 0", n)
	}
	if off := mgr.Offset(b); off != 0 {
		t.Fatalf("survivor at offset %d, want 0 after compaction", off)
	}

	// Atlas: removed position reads 0, survivor reads offset+1.
	atlas := mgr.Binding(false).Atlas
	if v := dev.ReadScalar(atlas, store.Origin{X: 32, Y: 32, Z: 32}); v != 0 {
		t.Fatalf("atlas entry for removed chunk is %d, want 0", v)
	}
	if v := dev.ReadScalar(atlas, store.Origin{X: 33, Y: 32, Z: 32}); v != 1 {
		t.Fatalf("atlas entry for survivor is %d, want offset+1 = 1", v)
	}
}

func TestRelocationCopiesPayload(t *testing.T) {
	// One chunk per group makes the relocation an inter-group copy;
	// the intra-group case is covered in the store tests.
	mgr, _ := newTestManager(t, 1)

	a := Pos{X: 0, Y: 0, Z: 0}
	b := Pos{X: 5, Y: 0, Z: 0}
	mgr.Insert(a)
	mgr.Insert(b)
	finalize(t, mgr)

	payload := make([]uint32, store.PayloadCells)
	for i := range payload {
		payload[i] = uint32(i) * 2654435761
	}
	mgr.Upload(b, payload)

	// Removing a forces b into the freed offset; its payload must
	// survive the move.
	mgr.Remove(a)
	finalize(t, mgr)

	got, err := mgr.ReadPayload(b)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("payload cell %d corrupted by relocation: got %d, want %d", i, got[i], payload[i])
		}
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	mgr, dev := newTestManager(t, 32)
	mgr.Insert(Pos{X: 0, Y: 0, Z: 0})
	mgr.Insert(Pos{X: 3, Y: 0, Z: 0})
	finalize(t, mgr)
	mgr.Remove(Pos{X: 0, Y: 0, Z: 0})
	finalize(t, mgr)

	copies := dev.CopyCount
	writes := dev.WriteCount
	finalize(t, mgr)
	if mgr.Dirty() {
		t.Fatalf("manager dirty after idempotent finalize")
	}
	if dev.CopyCount != copies || dev.WriteCount != writes {
		t.Fatalf("clean finalize submitted work: %d copies, %d writes",
			dev.CopyCount-copies, dev.WriteCount-writes)
	}
}

func TestGrowthAcrossGroups(t *testing.T) {
	mgr, _ := newTestManager(t, 2)

	prevCapacity := uint32(0)
	for i := 0; i < 5; i++ {
		mgr.Insert(Pos{X: int32(i), Y: 10, Z: 0})
		finalize(t, mgr)
		if cap := mgr.Datastore().Capacity(); cap < prevCapacity {
			t.Fatalf("capacity shrank from %d to %d", prevCapacity, cap)
		} else {
			prevCapacity = cap
		}
	}

	if n := mgr.Datastore().GroupCount(); n != 3 {
		t.Fatalf("expected 3 groups for 5 chunks of 2 per group, got %d", n)
	}
	group, origin := mgr.OffsetToGroupAndOrigin(4)
	if group != 2 || origin != 0 {
		t.Fatalf("offset 4 resolved to group %d origin %d, want group 2 origin 0", group, origin)
	}

	// Removals never shrink capacity.
	for i := 0; i < 5; i++ {
		mgr.Remove(Pos{X: int32(i), Y: 10, Z: 0})
	}
	finalize(t, mgr)
	if cap := mgr.Datastore().Capacity(); cap != prevCapacity {
		t.Fatalf("capacity changed from %d to %d after removals", prevCapacity, cap)
	}
}

func TestGrowthFailureSurfacesError(t *testing.T) {
	dev := store.NewMemoryDevice()
	mgr, err := NewManager(dev, 1)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	// Atlas + placeholders + first group are already allocated; allow
	// exactly one more group.
	dev.MaxGroups = 11

	mgr.Insert(Pos{X: 0, Y: 0, Z: 0})
	mgr.Insert(Pos{X: 2, Y: 0, Z: 0})
	finalize(t, mgr)

	mgr.Insert(Pos{X: 4, Y: 0, Z: 0})
	if err := mgr.Finalize(); err == nil {
		t.Fatalf("expected growth failure")
	}
	if !mgr.Dirty() {
		t.Fatalf("failed finalize must leave the transaction dirty")
	}

	// The caller may retry once the device recovers.
	dev.MaxGroups = 0
	finalize(t, mgr)
	checkOffsetsDense(t, mgr)
}

func TestOffsetReadWhileDirtyPanics(t *testing.T) {
	mgr, _ := newTestManager(t, 32)
	mgr.Insert(Pos{X: 0, Y: 0, Z: 0})
	finalize(t, mgr)
	mgr.Insert(Pos{X: 1, Y: 0, Z: 0})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic reading offsets while dirty")
		}
	}()
	mgr.Offset(Pos{X: 0, Y: 0, Z: 0})
}

func TestDuplicateInsertPanics(t *testing.T) {
	mgr, _ := newTestManager(t, 32)
	mgr.Insert(Pos{X: 0, Y: 0, Z: 0})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate insert")
		}
	}()
	mgr.Insert(Pos{X: 0, Y: 0, Z: 0})
}

func TestRemoveAbsentPanics(t *testing.T) {
	mgr, _ := newTestManager(t, 32)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic removing absent chunk")
		}
	}()
	mgr.Remove(Pos{X: 9, Y: 9, Z: 9})
}

func TestOffsetReuseAfterFinalize(t *testing.T) {
	mgr, _ := newTestManager(t, 32)
	a := Pos{X: 0, Y: 0, Z: 0}
	mgr.Insert(a)
	finalize(t, mgr)
	if off := mgr.Offset(a); off != 0 {
		t.Fatalf("first chunk at offset %d, want 0", off)
	}

	mgr.Remove(a)
	b := Pos{X: 8, Y: 8, Z: 8}
	mgr.Insert(b)
	finalize(t, mgr)

	// The physical offset is reusable; the logical index is not
	// (covered by the tracker tests).
	if off := mgr.Offset(b); off != 0 {
		t.Fatalf("replacement chunk at offset %d, want reused offset 0", off)
	}
}

func TestWhichAdvances(t *testing.T) {
	mgr, _ := newTestManager(t, 32)
	if mgr.Which() != 0 {
		t.Fatalf("initial parity %d, want 0", mgr.Which())
	}
	mgr.AdvanceWhich(3)
	if mgr.Which() != 1 {
		t.Fatalf("parity after 3 steps is %d, want 1", mgr.Which())
	}
	mgr.AdvanceWhich(2)
	if mgr.Which() != 1 {
		t.Fatalf("parity after 5 steps is %d, want 1", mgr.Which())
	}
}
