package sparsegrid

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/particles"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

// Config sizes a Grid.
type Config struct {
	// HashMapSize must be a power of two no smaller than MaxBlocks.
	HashMapSize uint32
	MaxBlocks   uint32
	// BlocksPerAxis bounds valid block coordinates.
	BlocksPerAxis [3]uint32
	Hash          string
}

// Grid is the GPU-resident sparse grid: an open-addressed hash map from
// block key to a physical slot in a bounded pool, an allocation counter
// and overflow counters. It owns all four buffers.
type Grid struct {
	hashMap  *compute.Buffer
	pool     *compute.Buffer
	slotKeys *compute.Buffer
	control  *compute.Buffer
	staging  *compute.Buffer

	hashMapSize   uint32
	mask          uint32
	maxBlocks     uint32
	blocksPerAxis [3]uint32
	hash          HashFunc
}

func New(dev compute.Device, cfg Config) (*Grid, error) {
	if cfg.MaxBlocks == 0 {
		return nil, fmt.Errorf("%w: zero max blocks", ErrConfig)
	}
	if cfg.HashMapSize == 0 || bits.OnesCount32(cfg.HashMapSize) != 1 {
		return nil, fmt.Errorf("%w: hash map size %d is not a power of two", ErrConfig, cfg.HashMapSize)
	}
	if cfg.HashMapSize < cfg.MaxBlocks {
		return nil, fmt.Errorf("%w: hash map size %d below max blocks %d", ErrConfig, cfg.HashMapSize, cfg.MaxBlocks)
	}
	for axis, n := range cfg.BlocksPerAxis {
		if n == 0 || n > 1<<KeyBits {
			return nil, fmt.Errorf("%w: %d blocks on axis %d", ErrConfig, n, axis)
		}
	}
	h, err := Hash(cfg.Hash)
	if err != nil {
		return nil, err
	}

	g := &Grid{
		hashMapSize:   cfg.HashMapSize,
		mask:          cfg.HashMapSize - 1,
		maxBlocks:     cfg.MaxBlocks,
		blocksPerAxis: cfg.BlocksPerAxis,
		hash:          h,
	}
	descs := []struct {
		dst  **compute.Buffer
		desc compute.BufferDescriptor
	}{
		{&g.hashMap, compute.BufferDescriptor{Label: "hash map", Size: uint64(cfg.HashMapSize) * EntryBytes, Usage: compute.BufferUsageStorage}},
		{&g.pool, compute.BufferDescriptor{Label: "grid pool", Size: uint64(cfg.MaxBlocks) * SlotBytes, Usage: compute.BufferUsageStorage}},
		{&g.slotKeys, compute.BufferDescriptor{Label: "slot keys", Size: uint64(cfg.MaxBlocks) * 4, Usage: compute.BufferUsageStorage}},
		{&g.control, compute.BufferDescriptor{Label: "grid control", Size: ControlBytes, Usage: compute.BufferUsageStorage | compute.BufferUsageCopySrc}},
		{&g.staging, compute.BufferDescriptor{Label: "grid control staging", Size: ControlBytes, Usage: compute.BufferUsageMapRead | compute.BufferUsageCopyDst}},
	}
	for _, d := range descs {
		buf, err := dev.CreateBuffer(d.desc)
		if err != nil {
			g.Destroy()
			return nil, fmt.Errorf("sparse grid %s: %w", d.desc.Label, err)
		}
		*d.dst = buf
	}
	g.hashMap.Fill(0, g.hashMap.Len(), EmptyKey)
	return g, nil
}

func (g *Grid) HashMapSize() uint32 { return g.hashMapSize }
func (g *Grid) MaxBlocks() uint32   { return g.maxBlocks }

// Pool returns a non-owning handle to the physical pool.
func (g *Grid) Pool() *compute.Buffer { return g.pool }

// Control returns a non-owning handle to the control block.
func (g *Grid) Control() *compute.Buffer { return g.control }

// HashMap returns a non-owning handle to the hash map entries.
func (g *Grid) HashMap() *compute.Buffer { return g.hashMap }

// Allocated is the number of slots claimed since the last clear. Valid in
// any dispatch after the map phase.
func (g *Grid) Allocated() uint32 {
	return min(g.control.Load(CtrlAllocated), g.maxBlocks)
}

// SlotKey returns the block key a claimed slot belongs to.
func (g *Grid) SlotKey(slot uint32) uint32 { return g.slotKeys.Load(slot) }

// ClearInvocations is the dispatch size of ClearKernel.
func (g *Grid) ClearInvocations() uint32 { return g.hashMapSize }

// ClearKernel empties every entry and resets the allocation counter. The
// overflow counters are cumulative and are not reset.
func (g *Grid) ClearKernel() compute.Kernel {
	return func(id uint32) {
		g.hashMap.Store(id*EntryWords, EmptyKey)
		g.hashMap.Store(id*EntryWords+1, SlotPending)
		if id == 0 {
			g.control.Store(CtrlAllocated, 0)
		}
	}
}

// claimSlot takes the next pool slot, never moving the counter past capacity.
func (g *Grid) claimSlot() uint32 {
	for {
		n := g.control.Load(CtrlAllocated)
		if n >= g.maxBlocks {
			return SlotOverflowed
		}
		if g.control.CompareAndSwap(CtrlAllocated, n, n+1) {
			return n
		}
	}
}

func (g *Grid) awaitSlot(word uint32) uint32 {
	for {
		if s := g.hashMap.Load(word); s != SlotPending {
			return s
		}
		runtime.Gosched()
	}
}

// InsertOrFind returns the slot of key, claiming an entry and a pool slot
// if the key is new this step. Concurrent callers with the same key always
// get the same slot. SlotOverflowed means the block was dropped.
func (g *Grid) InsertOrFind(key uint32) uint32 {
	h := g.hash(key) & g.mask
	for probe := uint32(0); probe < g.hashMapSize; probe++ {
		word := ((h + probe) & g.mask) * EntryWords
		cur := g.hashMap.Load(word)
		if cur == EmptyKey {
			if g.hashMap.CompareAndSwap(word, EmptyKey, key) {
				slot := g.claimSlot()
				if slot == SlotOverflowed {
					g.control.AtomicAdd(CtrlDropped, 1)
				} else {
					base := slot * SlotWords
					g.pool.Fill(base, base+SlotWords, 0)
					g.slotKeys.Store(slot, key)
				}
				// Publishing the slot last makes the zeroed block visible
				// to every reader that waits on it.
				g.hashMap.Store(word+1, slot)
				return slot
			}
			cur = g.hashMap.Load(word)
		}
		if cur == key {
			return g.awaitSlot(word + 1)
		}
	}
	g.control.AtomicAdd(CtrlDropped, 1)
	return SlotOverflowed
}

// Find returns the slot of key, or SlotOverflowed when it was never
// inserted or was dropped. Only valid after the map phase.
func (g *Grid) Find(key uint32) uint32 {
	h := g.hash(key) & g.mask
	for probe := uint32(0); probe < g.hashMapSize; probe++ {
		word := ((h + probe) & g.mask) * EntryWords
		switch g.hashMap.Load(word) {
		case key:
			return g.hashMap.Load(word + 1)
		case EmptyKey:
			return SlotOverflowed
		}
	}
	return SlotOverflowed
}

// BlockOf returns the key of the block containing cell c, and whether c
// lies inside the grid.
func (g *Grid) BlockOf(c [3]int32) (uint32, bool) {
	var b [3]uint32
	for axis := range c {
		if c[axis] < 0 {
			return 0, false
		}
		b[axis] = uint32(c[axis]) / BlockEdge
		if b[axis] >= g.blocksPerAxis[axis] {
			return 0, false
		}
	}
	return BlockKey(b[0], b[1], b[2]), true
}

// CellSlot resolves cell c to its pool slot and in-block index.
func (g *Grid) CellSlot(c [3]int32) (slot, cell uint32, ok bool) {
	key, ok := g.BlockOf(c)
	if !ok {
		return 0, 0, false
	}
	slot = g.Find(key)
	if slot >= g.maxBlocks {
		return 0, 0, false
	}
	cell = CellIndex(uint32(c[0])%BlockEdge, uint32(c[1])%BlockEdge, uint32(c[2])%BlockEdge)
	return slot, cell, true
}

// StencilBase is the lowest cell of the 3×3×3 quadratic B-spline stencil
// around grid-space position x.
func StencilBase(x mgl32.Vec3) [3]int32 {
	return [3]int32{
		int32(math.Floor(float64(x[0] - 0.5))),
		int32(math.Floor(float64(x[1] - 0.5))),
		int32(math.Floor(float64(x[2] - 0.5))),
	}
}

// ToGrid converts a world position to grid units.
func ToGrid(p *uniforms.Params, world mgl32.Vec3) mgl32.Vec3 {
	return world.Sub(p.GridMin).Mul(1 / p.CellSize)
}

// MapKernel inserts every block touched by a particle's stencil. The
// stencil spans three cells per axis, so it touches one or two blocks per
// axis and at most eight in total.
func (g *Grid) MapKernel(ps *compute.Buffer, p *uniforms.Params) compute.Kernel {
	return func(id uint32) {
		if id >= p.ParticleCount {
			return
		}
		base := id * particles.StrideWords
		x := ToGrid(p, mgl32.Vec3{
			ps.F32(base + particles.WordPosition),
			ps.F32(base + particles.WordPosition + 1),
			ps.F32(base + particles.WordPosition + 2),
		})
		lo := StencilBase(x)
		var blocks [3][2]int32
		var counts [3]int
		for axis := 0; axis < 3; axis++ {
			first, last := floorDiv(lo[axis], BlockEdge), floorDiv(lo[axis]+2, BlockEdge)
			blocks[axis][0], counts[axis] = first, 1
			if last != first {
				blocks[axis][1], counts[axis] = last, 2
			}
		}
		for i := 0; i < counts[0]; i++ {
			for j := 0; j < counts[1]; j++ {
				for k := 0; k < counts[2]; k++ {
					cell := [3]int32{blocks[0][i] * BlockEdge, blocks[1][j] * BlockEdge, blocks[2][k] * BlockEdge}
					if key, ok := g.BlockOf(cell); ok {
						g.InsertOrFind(key)
					}
				}
			}
		}
	}
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// Stats is a snapshot of the control block.
type Stats struct {
	Allocated           uint32
	MaxBlocks           uint32
	Dropped             uint32
	FixedPointOverflows uint32
}

// Overflowed reports whether any contribution has been lost.
func (s Stats) Overflowed() bool { return s.Dropped > 0 || s.FixedPointOverflows > 0 }

func (g *Grid) decodeStats(data []byte) Stats {
	return Stats{
		Allocated:           min(binary.LittleEndian.Uint32(data[CtrlAllocated*4:]), g.maxBlocks),
		MaxBlocks:           g.maxBlocks,
		Dropped:             binary.LittleEndian.Uint32(data[CtrlDropped*4:]),
		FixedPointOverflows: binary.LittleEndian.Uint32(data[CtrlFixedOverflows*4:]),
	}
}

// StatsPending reports whether a control readback is in flight.
func (g *Grid) StatsPending() bool { return g.staging.MapPending() }

// EncodeStats copies the control block into the staging buffer. Callers
// skip it while StatsPending.
func (g *Grid) EncodeStats(enc *compute.CommandEncoder) {
	enc.CopyBufferToBuffer(g.control, 0, g.staging, 0, ControlBytes)
}

// ReadStats maps the staging buffer after all submitted work. cb runs on
// the device queue goroutine and must not submit.
func (g *Grid) ReadStats(cb func(Stats, error)) error {
	err := g.staging.MapAsync(func(err error) {
		if err != nil {
			cb(Stats{}, err)
			return
		}
		data, err := g.staging.MappedRange()
		if err != nil {
			cb(Stats{}, err)
			return
		}
		s := g.decodeStats(data)
		g.staging.Unmap()
		cb(s, nil)
	})
	if errors.Is(err, compute.ErrMapPending) {
		return fmt.Errorf("%w: %w", ErrStatsPending, err)
	}
	return err
}

// Stats reads the control block synchronously.
func (g *Grid) Stats(ctx context.Context, dev compute.Device) (Stats, error) {
	data, err := compute.ReadBuffer(ctx, dev, g.control)
	if err != nil {
		return Stats{}, err
	}
	return g.decodeStats(data), nil
}

// Destroy releases every buffer the grid owns.
func (g *Grid) Destroy() {
	for _, b := range []**compute.Buffer{&g.hashMap, &g.pool, &g.slotKeys, &g.control, &g.staging} {
		if *b != nil {
			(*b).Destroy()
			*b = nil
		}
	}
}
