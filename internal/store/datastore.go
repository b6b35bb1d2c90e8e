package store

import "fmt"

const (
	// ChunkExtent is the edge length of a chunk in cells.
	ChunkExtent = 64

	// PayloadCells is the number of cells in one chunk payload slot.
	PayloadCells = ChunkExtent * ChunkExtent * ChunkExtent

	// AtlasExtent is the edge length of the atlas. Chunk positions in
	// [-AtlasExtent/2, AtlasExtent/2) are addressable.
	AtlasExtent = 64

	// MaxBoundGroups is the fixed arity of the group binding. Slots
	// beyond the live group count hold placeholder entries so the
	// binding never changes shape.
	MaxBoundGroups = 8
)

// Binding exposes the atlas and every storage group as one fixed-arity
// array for consumption by downstream stages. A Binding is immutable;
// the datastore builds a fresh one whenever the group count changes, so
// holders must re-fetch after growth.
type Binding struct {
	Atlas     GroupID
	Groups    [MaxBoundGroups]GroupID
	Live      int
	ReadWrite bool
}

// Datastore owns the chunk payload storage groups and the atlas. Chunks
// are packed side by side along x, physical offset o landing in group
// o / chunksPerGroup at x origin (o % chunksPerGroup) * ChunkExtent.
// The two double-buffer slots of a chunk are stacked along z.
type Datastore struct {
	dev            Device
	chunksPerGroup uint32
	groups         []GroupID
	atlas          GroupID
	placeholders   [MaxBoundGroups]GroupID
	bindingRW      *Binding
	bindingRO      *Binding
}

// NewDatastore creates a datastore with a single empty group.
func NewDatastore(dev Device, chunksPerGroup uint32) (*Datastore, error) {
	if chunksPerGroup == 0 || chunksPerGroup&(chunksPerGroup-1) != 0 {
		return nil, fmt.Errorf("datastore: chunks per group must be a power of two, got %d", chunksPerGroup)
	}
	d := &Datastore{
		dev:            dev,
		chunksPerGroup: chunksPerGroup,
	}

	atlas, err := dev.CreateGroup("datastore atlas", Extent{W: AtlasExtent, H: AtlasExtent, D: AtlasExtent})
	if err != nil {
		return nil, fmt.Errorf("datastore: create atlas: %w", err)
	}
	d.atlas = atlas

	// Placeholder groups pad the binding beyond the live group count
	// so its arity never changes shape.
	for i := range d.placeholders {
		p, err := dev.CreateGroup(fmt.Sprintf("datastore placeholder %d", i), Extent{W: 1, H: 1, D: 1})
		if err != nil {
			return nil, fmt.Errorf("datastore: create placeholder %d: %w", i, err)
		}
		d.placeholders[i] = p
	}

	group, err := dev.CreateGroup("datastore group 0", d.groupExtent())
	if err != nil {
		return nil, fmt.Errorf("datastore: create initial group: %w", err)
	}
	d.groups = []GroupID{group}
	d.rebuildBindings()
	return d, nil
}

func (d *Datastore) groupExtent() Extent {
	return Extent{
		W: ChunkExtent * d.chunksPerGroup,
		H: ChunkExtent,
		D: ChunkExtent * 2, // two parity slots
	}
}

// ChunksPerGroup returns the per-group chunk capacity.
func (d *Datastore) ChunksPerGroup() uint32 {
	return d.chunksPerGroup
}

// GroupCount returns the number of live groups.
func (d *Datastore) GroupCount() int {
	return len(d.groups)
}

// Capacity returns the total chunk capacity across all groups.
func (d *Datastore) Capacity() uint32 {
	return uint32(len(d.groups)) * d.chunksPerGroup
}

// OffsetToGroupAndOrigin resolves a physical offset to its group index
// and within-group origin in chunk units.
func (d *Datastore) OffsetToGroupAndOrigin(offset uint32) (uint32, uint32) {
	return offset / d.chunksPerGroup, offset % d.chunksPerGroup
}

func (d *Datastore) slotOrigin(offset, which uint32) (GroupID, Origin) {
	if which >= 2 {
		panic(fmt.Sprintf("datastore: which must be 0 or 1, got %d", which))
	}
	group := offset / d.chunksPerGroup
	if int(group) >= len(d.groups) {
		panic(fmt.Sprintf("datastore: offset %d beyond capacity %d", offset, d.Capacity()))
	}
	return d.groups[group], Origin{
		X: (offset % d.chunksPerGroup) * ChunkExtent,
		Y: 0,
		Z: which * ChunkExtent,
	}
}

// Upload overwrites one parity slot of the chunk at offset.
func (d *Datastore) Upload(offset, which uint32, cells []uint32) {
	if len(cells) != PayloadCells {
		panic(fmt.Sprintf("datastore: payload of %d cells, want %d", len(cells), PayloadCells))
	}
	g, origin := d.slotOrigin(offset, which)
	d.dev.WriteRegion(g, origin, Extent{W: ChunkExtent, H: ChunkExtent, D: ChunkExtent}, cells)
}

// ReadPayload reads one parity slot of the chunk at offset back to the
// host. Fails with ErrNoReadback when the device cannot read.
func (d *Datastore) ReadPayload(offset, which uint32) ([]uint32, error) {
	reader, ok := d.dev.(RegionReader)
	if !ok {
		return nil, ErrNoReadback
	}
	g, origin := d.slotOrigin(offset, which)
	cells := make([]uint32, PayloadCells)
	if err := reader.ReadRegion(g, origin, Extent{W: ChunkExtent, H: ChunkExtent, D: ChunkExtent}, cells); err != nil {
		return nil, fmt.Errorf("datastore: read payload at offset %d: %w", offset, err)
	}
	return cells, nil
}

// BeginRelocation starts a copy batch for offset relocations.
func (d *Datastore) BeginRelocation() Encoder {
	return d.dev.BeginEncoder("datastore relocation")
}

// Relocate records copies of the full payload (both parity slots) from
// one offset to another. Intra- and inter-group moves are equivalent.
func (d *Datastore) Relocate(enc Encoder, from, to uint32) {
	extent := Extent{W: ChunkExtent, H: ChunkExtent, D: ChunkExtent}
	for which := uint32(0); which < 2; which++ {
		srcGroup, srcOrigin := d.slotOrigin(from, which)
		dstGroup, dstOrigin := d.slotOrigin(to, which)
		enc.CopyRegion(srcGroup, srcOrigin, dstGroup, dstOrigin, extent)
	}
}

// Submit executes a relocation batch. All copies land before any write
// issued after Submit returns.
func (d *Datastore) Submit(enc Encoder) {
	d.dev.Submit(enc)
}

// UpdateAtlas writes the residency summary value for a chunk position.
// The encoding is offset+1 for a resident chunk and 0 for absent; the
// caller supplies the already encoded value.
func (d *Datastore) UpdateAtlas(x, y, z int32, value uint32) {
	const half = AtlasExtent / 2
	if x < -half || x >= half || y < -half || y >= half || z < -half || z >= half {
		panic(fmt.Sprintf("datastore: position (%d,%d,%d) outside atlas range [%d,%d)", x, y, z, -half, half))
	}
	d.dev.WriteScalar(d.atlas, Origin{
		X: uint32(x + half),
		Y: uint32(y + half),
		Z: uint32(z + half),
	}, value)
}

// EnsureSize grows the group list until it can hold size chunks. Groups
// are never released; capacity is monotonically non-decreasing. Growth
// rebuilds both bindings, invalidating previously fetched ones.
func (d *Datastore) EnsureSize(size uint32) error {
	required := int((size + d.chunksPerGroup - 1) / d.chunksPerGroup)
	if required <= len(d.groups) {
		return nil
	}
	if required > MaxBoundGroups {
		return fmt.Errorf("datastore: %d chunks need %d groups, binding holds at most %d", size, required, MaxBoundGroups)
	}
	for len(d.groups) < required {
		group, err := d.dev.CreateGroup(fmt.Sprintf("datastore group %d", len(d.groups)), d.groupExtent())
		if err != nil {
			return fmt.Errorf("datastore: create group %d: %w", len(d.groups), err)
		}
		d.groups = append(d.groups, group)
	}
	d.rebuildBindings()
	return nil
}

// Binding returns the current fixed-arity view of the atlas and groups.
// The returned value is stale after any growth and must be re-fetched.
func (d *Datastore) Binding(readWrite bool) *Binding {
	if readWrite {
		return d.bindingRW
	}
	return d.bindingRO
}

func (d *Datastore) rebuildBindings() {
	d.bindingRW = d.newBinding(true)
	d.bindingRO = d.newBinding(false)
}

func (d *Datastore) newBinding(readWrite bool) *Binding {
	b := &Binding{
		Atlas:     d.atlas,
		Live:      len(d.groups),
		ReadWrite: readWrite,
	}
	for i := range b.Groups {
		if i < len(d.groups) {
			b.Groups[i] = d.groups[i]
		} else {
			b.Groups[i] = d.placeholders[i]
		}
	}
	return b
}
