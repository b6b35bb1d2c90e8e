package store

import "fmt"

// GroupID is an opaque handle to a storage group allocated on a device.
type GroupID int

// Extent is the size of a 3D region in cells.
type Extent struct {
	W, H, D uint32
}

// Origin is the corner of a 3D region in cells.
type Origin struct {
	X, Y, Z uint32
}

// Cells returns the number of cells covered by the extent.
func (e Extent) Cells() int {
	return int(e.W) * int(e.H) * int(e.D)
}

// Encoder batches copy commands for a single submission. Commands take
// effect only when the encoder is submitted, and all copies in one
// submission land before any write issued afterwards.
type Encoder interface {
	CopyRegion(src GroupID, srcOrigin Origin, dst GroupID, dstOrigin Origin, extent Extent)
}

// Device is the external execution device that owns the backing storage.
// Writes are fire-and-forget; only group allocation can fail.
type Device interface {
	// CreateGroup allocates a fixed-size storage group. The label is
	// for diagnostics only.
	CreateGroup(label string, extent Extent) (GroupID, error)

	// WriteRegion overwrites a region of a group. len(cells) must equal
	// extent.Cells().
	WriteRegion(g GroupID, origin Origin, extent Extent, cells []uint32)

	// WriteScalar overwrites a single cell of a group.
	WriteScalar(g GroupID, origin Origin, value uint32)

	// BeginEncoder starts a new copy batch.
	BeginEncoder(label string) Encoder

	// Submit executes a copy batch.
	Submit(enc Encoder)
}

// RegionReader is implemented by devices that support reading storage
// back to the host. GPU-like devices may not.
type RegionReader interface {
	ReadRegion(g GroupID, origin Origin, extent Extent, cells []uint32) error
}

// ErrNoReadback is returned when a payload read is requested from a
// device that does not implement RegionReader.
var ErrNoReadback = fmt.Errorf("store: device does not support readback")
