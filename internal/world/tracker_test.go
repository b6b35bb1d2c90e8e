package world

import "testing"

// checkDense verifies the load-bearing invariant: occupied offsets are
// exactly 0..count with no duplicates or gaps, and both directions of
// the mapping agree.
func checkDense(t *testing.T, tr *offsetTracker) {
	t.Helper()
	if len(tr.indexToOffset) != len(tr.offsetToIndex) {
		t.Fatalf("mapping sizes disagree: %d indices, %d offsets", len(tr.indexToOffset), len(tr.offsetToIndex))
	}
	for offset, index := range tr.offsetToIndex {
		got, ok := tr.indexToOffset[index]
		if !ok {
			t.Fatalf("offset %d owned by untracked index %d", offset, index)
		}
		if got != uint32(offset) {
			t.Fatalf("index %d recorded at offset %d but lives at %d", index, got, offset)
		}
	}
}

func TestTrackerAllocateAssignsDenseOffsets(t *testing.T) {
	tr := newOffsetTracker()
	for i := 0; i < 8; i++ {
		index := tr.allocate()
		if index != uint64(i) {
			t.Fatalf("expected index %d, got %d", i, index)
		}
		if off := tr.offsetOf(index); off != uint32(i) {
			t.Fatalf("expected offset %d for index %d, got %d", i, index, off)
		}
	}
	checkDense(t, tr)
}

func TestTrackerReleaseLastShrinks(t *testing.T) {
	tr := newOffsetTracker()
	a := tr.allocate()
	b := tr.allocate()
	tr.release(b)
	if tr.count() != 1 {
		t.Fatalf("expected count 1, got %d", tr.count())
	}
	if off := tr.offsetOf(a); off != 0 {
		t.Fatalf("surviving index moved unexpectedly to offset %d", off)
	}
	checkDense(t, tr)
}

func TestTrackerReleaseMiddleSwapsLastIn(t *testing.T) {
	tr := newOffsetTracker()
	tr.allocate() // offset 0
	b := tr.allocate()
	c := tr.allocate() // last
	tr.release(b)
	if off := tr.offsetOf(c); off != 1 {
		t.Fatalf("expected last index to move into offset 1, got %d", off)
	}
	checkDense(t, tr)
}

func TestTrackerIndicesNeverReused(t *testing.T) {
	tr := newOffsetTracker()
	seen := make(map[uint64]bool)
	live := []uint64{}
	for i := 0; i < 100; i++ {
		index := tr.allocate()
		if seen[index] {
			t.Fatalf("index %d issued twice", index)
		}
		seen[index] = true
		live = append(live, index)
		if i%3 == 0 && len(live) > 1 {
			// Remove from the middle to force swaps.
			victim := live[len(live)/2]
			tr.release(victim)
			live = append(live[:len(live)/2], live[len(live)/2+1:]...)
		}
	}
	checkDense(t, tr)
	if tr.count() != len(live) {
		t.Fatalf("expected %d live offsets, got %d", len(live), tr.count())
	}
}

func TestTrackerUntrackedIndexPanics(t *testing.T) {
	tr := newOffsetTracker()
	tr.allocate()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for untracked index")
		}
	}()
	tr.offsetOf(99)
}

func TestTrackerDoubleReleasePanics(t *testing.T) {
	tr := newOffsetTracker()
	a := tr.allocate()
	tr.release(a)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for double release")
		}
	}()
	tr.release(a)
}
