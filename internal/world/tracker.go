package world

import "fmt"

// offsetTracker maintains a bijection between live logical indices and
// a dense range of physical offsets 0..count. Indices come from a
// monotonic counter and are never reused; offsets are compacted with a
// swap-to-end on removal, so exactly one chunk relocates per release
// and the occupied offsets never have gaps.
type offsetTracker struct {
	indexToOffset map[uint64]uint32
	offsetToIndex []uint64
	nextIndex     uint64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		indexToOffset: make(map[uint64]uint32),
	}
}

// allocate issues a fresh logical index bound to the next free offset.
func (t *offsetTracker) allocate() uint64 {
	index := t.nextIndex
	t.nextIndex++
	offset := uint32(len(t.offsetToIndex))
	t.indexToOffset[index] = offset
	t.offsetToIndex = append(t.offsetToIndex, index)
	return index
}

// release removes an index. When the freed offset is not the last one,
// the owner of the last offset moves into the hole; its physical
// payload must be relocated by the caller at the next finalize.
func (t *offsetTracker) release(index uint64) {
	offset, ok := t.indexToOffset[index]
	if !ok {
		panic(fmt.Sprintf("world: index %d not found", index))
	}
	delete(t.indexToOffset, index)
	last := len(t.offsetToIndex) - 1
	if int(offset) != last {
		moved := t.offsetToIndex[last]
		t.offsetToIndex[offset] = moved
		t.indexToOffset[moved] = offset
	}
	t.offsetToIndex = t.offsetToIndex[:last]
}

// offsetOf returns the current offset of a live index.
func (t *offsetTracker) offsetOf(index uint64) uint32 {
	offset, ok := t.indexToOffset[index]
	if !ok {
		panic(fmt.Sprintf("world: index %d not found", index))
	}
	return offset
}

// count returns the number of occupied offsets.
func (t *offsetTracker) count() int {
	return len(t.offsetToIndex)
}
