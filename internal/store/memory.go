package store

import "fmt"

// MemoryDevice is an in-memory Device for tests and CPU-only runs. It
// also supports readback, which the snapshot layer depends on.
//
// Group storage is allocated on first write; an untouched group reads
// as all zeros without costing its full extent in memory.
type MemoryDevice struct {
	// MaxGroups caps the number of groups that may be allocated.
	// Zero means unlimited.
	MaxGroups int

	groups []*memGroup

	// Command counters, useful for asserting how much work a frame
	// actually submitted.
	CopyCount  int
	WriteCount int
}

type memGroup struct {
	extent Extent
	cells  []uint32 // nil until first written
}

// NewMemoryDevice creates an empty in-memory device.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{}
}

func (d *MemoryDevice) CreateGroup(label string, extent Extent) (GroupID, error) {
	if d.MaxGroups > 0 && len(d.groups) >= d.MaxGroups {
		return GroupID(-1), fmt.Errorf("memory device: group limit %d reached (%s)", d.MaxGroups, label)
	}
	d.groups = append(d.groups, &memGroup{extent: extent})
	return GroupID(len(d.groups) - 1), nil
}

func (d *MemoryDevice) WriteRegion(g GroupID, origin Origin, extent Extent, cells []uint32) {
	if len(cells) != extent.Cells() {
		panic(fmt.Sprintf("memory device: write of %d cells into extent of %d", len(cells), extent.Cells()))
	}
	d.WriteCount++
	grp := d.group(g)
	grp.ensure()
	i := 0
	for z := uint32(0); z < extent.D; z++ {
		for y := uint32(0); y < extent.H; y++ {
			for x := uint32(0); x < extent.W; x++ {
				grp.cells[grp.index(origin.X+x, origin.Y+y, origin.Z+z)] = cells[i]
				i++
			}
		}
	}
}

func (d *MemoryDevice) WriteScalar(g GroupID, origin Origin, value uint32) {
	d.WriteCount++
	grp := d.group(g)
	grp.ensure()
	grp.cells[grp.index(origin.X, origin.Y, origin.Z)] = value
}

func (d *MemoryDevice) ReadRegion(g GroupID, origin Origin, extent Extent, cells []uint32) error {
	if len(cells) != extent.Cells() {
		return fmt.Errorf("memory device: read of %d cells from extent of %d", len(cells), extent.Cells())
	}
	grp := d.group(g)
	i := 0
	for z := uint32(0); z < extent.D; z++ {
		for y := uint32(0); y < extent.H; y++ {
			for x := uint32(0); x < extent.W; x++ {
				cells[i] = grp.read(origin.X+x, origin.Y+y, origin.Z+z)
				i++
			}
		}
	}
	return nil
}

// ReadScalar reads a single cell, a convenience for tests.
func (d *MemoryDevice) ReadScalar(g GroupID, origin Origin) uint32 {
	return d.group(g).read(origin.X, origin.Y, origin.Z)
}

func (d *MemoryDevice) BeginEncoder(label string) Encoder {
	return &memEncoder{}
}

func (d *MemoryDevice) Submit(enc Encoder) {
	me, ok := enc.(*memEncoder)
	if !ok {
		panic("memory device: submit of foreign encoder")
	}
	for _, op := range me.ops {
		d.copyRegion(op)
		d.CopyCount++
	}
	me.ops = nil
}

func (d *MemoryDevice) copyRegion(op copyOp) {
	src := d.group(op.src)
	dst := d.group(op.dst)
	if src.cells == nil && dst.cells == nil {
		// Zeros over zeros.
		return
	}
	// Stage through a buffer so overlapping same-group copies behave
	// like the device's copy command, which reads before writing.
	tmp := make([]uint32, op.extent.Cells())
	i := 0
	for z := uint32(0); z < op.extent.D; z++ {
		for y := uint32(0); y < op.extent.H; y++ {
			for x := uint32(0); x < op.extent.W; x++ {
				tmp[i] = src.read(op.srcOrigin.X+x, op.srcOrigin.Y+y, op.srcOrigin.Z+z)
				i++
			}
		}
	}
	dst.ensure()
	i = 0
	for z := uint32(0); z < op.extent.D; z++ {
		for y := uint32(0); y < op.extent.H; y++ {
			for x := uint32(0); x < op.extent.W; x++ {
				dst.cells[dst.index(op.dstOrigin.X+x, op.dstOrigin.Y+y, op.dstOrigin.Z+z)] = tmp[i]
				i++
			}
		}
	}
}

func (d *MemoryDevice) group(g GroupID) *memGroup {
	if g < 0 || int(g) >= len(d.groups) {
		panic(fmt.Sprintf("memory device: unknown group %d", g))
	}
	return d.groups[g]
}

func (g *memGroup) ensure() {
	if g.cells == nil {
		g.cells = make([]uint32, g.extent.Cells())
	}
}

func (g *memGroup) read(x, y, z uint32) uint32 {
	i := g.index(x, y, z)
	if g.cells == nil {
		return 0
	}
	return g.cells[i]
}

func (g *memGroup) index(x, y, z uint32) int {
	if x >= g.extent.W || y >= g.extent.H || z >= g.extent.D {
		panic(fmt.Sprintf("memory device: access (%d,%d,%d) outside extent (%d,%d,%d)",
			x, y, z, g.extent.W, g.extent.H, g.extent.D))
	}
	return int(x) + int(y)*int(g.extent.W) + int(z)*int(g.extent.W)*int(g.extent.H)
}

type copyOp struct {
	src, dst             GroupID
	srcOrigin, dstOrigin Origin
	extent               Extent
}

type memEncoder struct {
	ops []copyOp
}

func (e *memEncoder) CopyRegion(src GroupID, srcOrigin Origin, dst GroupID, dstOrigin Origin, extent Extent) {
	e.ops = append(e.ops, copyOp{src: src, dst: dst, srcOrigin: srcOrigin, dstOrigin: dstOrigin, extent: extent})
}
