package world

import (
	"fmt"

	"github.com/jackyliao123/ca3d/internal/store"
)

// Pos is an integer 3D chunk position, the unique key of a chunk for
// its whole lifetime.
type Pos struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// Add returns the component-wise sum of two positions.
func (p Pos) Add(o Pos) Pos {
	return Pos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// InAtlasRange reports whether the position is addressable by the
// residency atlas. Positions from external sources must pass this check
// before insertion.
func (p Pos) InAtlasRange() bool {
	const half = store.AtlasExtent / 2
	return p.X >= -half && p.X < half &&
		p.Y >= -half && p.Y < half &&
		p.Z >= -half && p.Z < half
}

// neighborhood is the 3x3x3 window minus the center: the 26 positions
// adjacent to a chunk.
var neighborhood = buildNeighborhood()

func buildNeighborhood() [26]Pos {
	var offsets [26]Pos
	i := 0
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				offsets[i] = Pos{X: dx, Y: dy, Z: dz}
				i++
			}
		}
	}
	return offsets
}

// residency binds a chunk to backing storage: a stable logical index
// owned by the offset tracker and the physical offset it currently
// resolves to.
type residency struct {
	index  uint64
	offset uint32
}

// Chunk is one resident volumetric cell block.
type Chunk struct {
	Pos       Pos
	Neighbors uint32

	// res is nil until the next Finalize assigns a binding.
	res *residency
}

// Bound reports whether the chunk has a residency binding.
func (c *Chunk) Bound() bool {
	return c.res != nil
}

// Offset returns the chunk's physical offset. Calling it on a chunk
// whose binding has not been assigned yet is a caller bug.
func (c *Chunk) Offset() uint32 {
	if c.res == nil {
		panic(fmt.Sprintf("world: chunk %v offset not tracked", c.Pos))
	}
	return c.res.offset
}
