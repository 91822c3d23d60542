package mpm

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/particles"
	"github.com/san-kum/snowmpm/internal/sparsegrid"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

const (
	// boundaryCells is the band next to the domain walls where outward
	// velocity is removed.
	boundaryCells = 2
	// cflCells bounds how far a node may move in one step.
	cflCells = 0.9
)

func sq(x float32) float32 { return x * x }

func clamp(x, lo, hi float32) float32 { return max(lo, min(x, hi)) }

// stencil is the 3×3×3 quadratic B-spline neighbourhood of one particle.
type stencil struct {
	base [3]int32
	fx   mgl32.Vec3
	w    [3]mgl32.Vec3
}

func newStencil(x mgl32.Vec3) stencil {
	s := stencil{base: sparsegrid.StencilBase(x)}
	s.fx = x.Sub(mgl32.Vec3{float32(s.base[0]), float32(s.base[1]), float32(s.base[2])})
	for a := 0; a < 3; a++ {
		f := s.fx[a]
		s.w[0][a] = 0.5 * sq(1.5-f)
		s.w[1][a] = 0.75 - sq(f-1)
		s.w[2][a] = 0.5 * sq(f-0.5)
	}
	return s
}

// node returns the cell, weight and particle-to-node offset of node (i,j,k).
func (s *stencil) node(i, j, k int) (cell [3]int32, w float32, dpos mgl32.Vec3) {
	cell = [3]int32{s.base[0] + int32(i), s.base[1] + int32(j), s.base[2] + int32(k)}
	w = s.w[i][0] * s.w[j][1] * s.w[k][2]
	dpos = mgl32.Vec3{float32(i), float32(j), float32(k)}.Sub(s.fx)
	return cell, w, dpos
}

// slotCache memoises block lookups for one particle; a stencil touches at
// most eight blocks.
type slotCache struct {
	keys  [8]uint32
	slots [8]uint32
	n     int
}

func (c *slotCache) lookup(g *sparsegrid.Grid, cell [3]int32) (word uint32, ok bool) {
	key, ok := g.BlockOf(cell)
	if !ok {
		return 0, false
	}
	slot := sparsegrid.SlotOverflowed
	found := false
	for i := 0; i < c.n; i++ {
		if c.keys[i] == key {
			slot, found = c.slots[i], true
			break
		}
	}
	if !found {
		slot = g.Find(key)
		if c.n < len(c.keys) {
			c.keys[c.n], c.slots[c.n] = key, slot
			c.n++
		}
	}
	if slot >= g.MaxBlocks() {
		return 0, false
	}
	local := sparsegrid.CellIndex(uint32(cell[0])%sparsegrid.BlockEdge, uint32(cell[1])%sparsegrid.BlockEdge, uint32(cell[2])%sparsegrid.BlockEdge)
	return sparsegrid.CellWord(slot, local), true
}

// kirchhoff returns τ = P·Fᵀ for the active method.
func (p *Pipeline) kirchhoff(pt *particles.Particle) mgl32.Mat3 {
	if p.params.Method == uniforms.MethodFluid {
		j := pt.Jp
		return mgl32.Ident3().Mul(p.material.BulkModulus * (j - 1) * j)
	}
	h := clamp(float32(math.Exp(float64(p.material.Hardening*(1-pt.Jp)))), 0.1, 5)
	mu, lambda := p.mu0*h, p.lambda0*h
	f := pt.F
	j := f.Det()
	r := polar(f)
	return f.Sub(r).Mul3(f.Transpose()).Mul(2 * mu).Add(mgl32.Ident3().Mul(lambda * (j - 1) * j))
}

func (p *Pipeline) particleToGrid(id uint32) {
	if id >= p.params.ParticleCount {
		return
	}
	pt := particles.Load(p.particles, id)
	h, dt, scale := p.params.CellSize, p.params.Timestep, p.params.FixedPointScale
	x := sparsegrid.ToGrid(&p.params, pt.Position)
	mv := pt.Velocity.Mul(pt.Mass / h)

	// MLS-MPM folds the stress force into the affine momentum; 4 is the
	// inverse inertia of the quadratic kernel at unit cell size.
	affine := p.kirchhoff(&pt).Mul(-dt * pt.Volume * 4).Add(pt.C.Mul(pt.Mass))

	s := newStencil(x)
	var cache slotCache
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				cell, w, dpos := s.node(i, j, k)
				word, ok := cache.lookup(p.grid, cell)
				if !ok {
					continue
				}
				mom := mv.Add(affine.Mul3x1(dpos)).Mul(w)
				p.grid.AddFixed(word, w*pt.Mass, scale)
				p.grid.AddFixed(word+1, mom[0], scale)
				p.grid.AddFixed(word+2, mom[1], scale)
				p.grid.AddFixed(word+3, mom[2], scale)
			}
		}
	}
}

func (p *Pipeline) gridUpdate(id uint32) {
	slot := id / sparsegrid.CellsPerBlock
	if slot >= p.grid.Allocated() {
		return
	}
	local := id % sparsegrid.CellsPerBlock
	word := sparsegrid.CellWord(slot, local)
	pool := p.grid.Pool()
	scale := p.params.FixedPointScale

	mass := sparsegrid.DecodeFixed(int32(pool.Word(word)), scale)
	if mass <= 0 {
		pool.SetWord(word+1, 0)
		pool.SetWord(word+2, 0)
		pool.SetWord(word+3, 0)
		return
	}
	var v mgl32.Vec3
	for a := uint32(0); a < 3; a++ {
		v[a] = sparsegrid.DecodeFixed(int32(pool.Word(word+1+a)), scale) / mass
	}
	dt, h := p.params.Timestep, p.params.CellSize
	v = v.Add(p.params.Gravity.Mul(dt / h))

	bx, by, bz := sparsegrid.UnpackKey(p.grid.SlotKey(slot))
	cell := [3]uint32{
		bx*sparsegrid.BlockEdge + local%sparsegrid.BlockEdge,
		by*sparsegrid.BlockEdge + local/sparsegrid.BlockEdge%sparsegrid.BlockEdge,
		bz*sparsegrid.BlockEdge + local/(sparsegrid.BlockEdge*sparsegrid.BlockEdge),
	}
	v = p.collide(cell, v)
	for a := 0; a < 3; a++ {
		if cell[a] < boundaryCells && v[a] < 0 {
			v[a] = 0
		}
		if cell[a]+boundaryCells > p.params.GridResolution[a] && v[a] > 0 {
			v[a] = 0
		}
	}
	if limit := cflCells / dt; v.Len() > limit {
		v = v.Mul(limit / v.Len())
	}
	pool.SetF32(word+1, v[0])
	pool.SetF32(word+2, v[1])
	pool.SetF32(word+3, v[2])
}

// collide gives nodes inside the collider's box the collider's normal
// velocity and keeps their tangential motion. v is in cells per second.
func (p *Pipeline) collide(cell [3]uint32, v mgl32.Vec3) mgl32.Vec3 {
	if !p.params.ColliderEnabled {
		return v
	}
	h := p.params.CellSize
	world := p.params.GridMin.Add(mgl32.Vec3{float32(cell[0]), float32(cell[1]), float32(cell[2])}.Mul(h))
	local := p.colliderInv.Mul4x1(world.Vec4(1)).Vec3()
	lo, hi := p.params.ColliderBoxMin, p.params.ColliderBoxMax

	axis, sign, best := -1, float32(0), float32(math.MaxFloat32)
	for a := 0; a < 3; a++ {
		if local[a] < lo[a] || local[a] > hi[a] {
			return v
		}
		if d := local[a] - lo[a]; d < best {
			axis, sign, best = a, -1, d
		}
		if d := hi[a] - local[a]; d < best {
			axis, sign, best = a, 1, d
		}
	}
	if axis < 0 {
		return v
	}
	var n mgl32.Vec4
	n[axis] = sign
	normal := p.colliderInv.Transpose().Mul4x1(n).Vec3()
	if normal.Len() == 0 {
		return v
	}
	normal = normal.Normalize()
	cv := p.params.ColliderVelocity.Mul(1 / h)
	return v.Sub(normal.Mul(v.Sub(cv).Dot(normal)))
}

func (p *Pipeline) gridToParticle(id uint32) {
	if id >= p.params.ParticleCount {
		return
	}
	pt := particles.Load(p.particles, id)
	pool := p.grid.Pool()
	h, dt := p.params.CellSize, p.params.Timestep
	x := sparsegrid.ToGrid(&p.params, pt.Position)

	s := newStencil(x)
	var cache slotCache
	var v mgl32.Vec3
	var b mgl32.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				cell, w, dpos := s.node(i, j, k)
				word, ok := cache.lookup(p.grid, cell)
				if !ok {
					continue
				}
				gv := mgl32.Vec3{pool.F32(word + 1), pool.F32(word + 2), pool.F32(word + 3)}
				v = v.Add(gv.Mul(w))
				b = b.Add(gv.OuterProd3(dpos).Mul(w))
			}
		}
	}
	c := b.Mul(4)

	x = x.Add(v.Mul(dt))
	for a := 0; a < 3; a++ {
		x[a] = clamp(x[a], 1, float32(p.params.GridResolution[a])-2)
	}
	pt.Position = p.params.GridMin.Add(x.Mul(h))
	pt.Velocity = v.Mul(h)
	pt.C = c

	step := mgl32.Ident3().Add(c.Mul(dt))
	if p.params.Method == uniforms.MethodFluid {
		pt.Jp *= step.Det()
		pt.F = mgl32.Ident3()
	} else {
		pt.F, pt.Jp = p.plasticity(step.Mul3(pt.F), pt.Jp)
	}
	pt.Store(p.particles, id)
}

// plasticity clamps the singular values of the trial F into the elastic
// range and moves the excess into Jp.
func (p *Pipeline) plasticity(f mgl32.Mat3, jp float32) (mgl32.Mat3, float32) {
	u, sig, v, ok := svd3(f)
	if !ok {
		return f, jp
	}
	lo, hi := 1-p.material.CriticalCompression, 1+p.material.CriticalStretch
	var clamped mgl32.Vec3
	for a := 0; a < 3; a++ {
		clamped[a] = clamp(sig[a], lo, hi)
		jp *= sig[a] / clamped[a]
	}
	return u.Mul3(mgl32.Diag3(clamped)).Mul3(v.Transpose()), clamp(jp, 0.6, 20)
}
