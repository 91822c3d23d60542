package initializer

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/particles"
	"gonum.org/v1/gonum/spatial/r3"
)

const triangleWords = 9

// rayDir is deliberately off-axis so parity rays do not graze the shared
// edges of axis-aligned meshes.
var rayDir = mgl32.Vec3{1, 0.000123, 0.000457}.Normalize()

// Options describes one scatter.
type Options struct {
	Seed     uint64
	Mass     float32
	Volume   float32
	Velocity mgl32.Vec3
	Material particles.Material
	// MaxAttempts bounds rejection sampling per particle; the last sample
	// is kept when every attempt falls outside the mesh.
	MaxAttempts int
}

// Initializer scatters particles uniformly inside a closed mesh. It owns
// the triangle buffer.
type Initializer struct {
	triangles *compute.Buffer
	count     uint32
	bounds    r3.Box
	volume    float64
}

// New uploads mesh triangles to dev. The bounding box is computed on the host.
func New(dev compute.Device, mesh *Mesh) (*Initializer, error) {
	if err := mesh.validate(); err != nil {
		return nil, err
	}
	data := make([]float32, 0, len(mesh.Faces)*triangleWords)
	for _, f := range mesh.Faces {
		for _, idx := range f {
			v := mesh.Vertices[idx]
			data = append(data, float32(v.X), float32(v.Y), float32(v.Z))
		}
	}
	buf, err := dev.CreateBuffer(compute.BufferDescriptor{
		Label: "scatter mesh",
		Size:  uint64(len(data)) * 4,
		Usage: compute.BufferUsageStorage | compute.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("scatter mesh: %w", err)
	}
	raw := make([]byte, len(data)*4)
	for i, f := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}
	if err := dev.Queue().WriteBuffer(buf, 0, raw); err != nil {
		buf.Destroy()
		return nil, fmt.Errorf("scatter mesh: %w", err)
	}
	return &Initializer{
		triangles: buf,
		count:     uint32(len(mesh.Faces)),
		bounds:    mesh.Bounds(),
		volume:    mesh.Volume(),
	}, nil
}

// Bounds is the mesh's bounding box; every scattered particle lies in it.
func (in *Initializer) Bounds() r3.Box { return in.bounds }

// Volume is the enclosed mesh volume.
func (in *Initializer) Volume() float64 { return in.volume }

func (in *Initializer) triangle(t uint32) (a, b, c mgl32.Vec3) {
	base := t * triangleWords
	f := in.triangles.F32
	a = mgl32.Vec3{f(base), f(base + 1), f(base + 2)}
	b = mgl32.Vec3{f(base + 3), f(base + 4), f(base + 5)}
	c = mgl32.Vec3{f(base + 6), f(base + 7), f(base + 8)}
	return a, b, c
}

// inside is the kernel-side ray parity test against the uploaded triangles.
func (in *Initializer) inside(p mgl32.Vec3) bool {
	hits := 0
	for t := uint32(0); t < in.count; t++ {
		a, b, c := in.triangle(t)
		if rayHits(p, rayDir, a, b, c) {
			hits++
		}
	}
	return hits%2 == 1
}

// rayHits is the Möller–Trumbore ray/triangle test for t > 0.
func rayHits(o, d, a, b, c mgl32.Vec3) bool {
	const eps = 1e-9
	e1, e2 := b.Sub(a), c.Sub(a)
	p := d.Cross(e2)
	det := e1.Dot(p)
	if det > -eps && det < eps {
		return false
	}
	inv := 1 / det
	s := o.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return false
	}
	q := s.Cross(e1)
	v := d.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return false
	}
	return e2.Dot(q)*inv > 0
}

// Encode records the scatter dispatch for every particle of dst. Each
// invocation draws from its own stream derived from (Seed, index), so the
// result does not depend on scheduling.
func (in *Initializer) Encode(pass *compute.ComputePass, dst *particles.Store, opts Options) {
	lo := mgl32.Vec3{float32(in.bounds.Min.X), float32(in.bounds.Min.Y), float32(in.bounds.Min.Z)}
	size := mgl32.Vec3{
		float32(in.bounds.Max.X - in.bounds.Min.X),
		float32(in.bounds.Max.Y - in.bounds.Min.Y),
		float32(in.bounds.Max.Z - in.bounds.Min.Z),
	}
	attempts := max(opts.MaxAttempts, 1)
	buf := dst.Buffer()
	pass.Dispatch("scatter particles", dst.Count(), func(id uint32) {
		rng := rand.NewPCG(opts.Seed, uint64(id))
		var p mgl32.Vec3
		for try := 0; try < attempts; try++ {
			p = lo.Add(mgl32.Vec3{
				size[0] * unit(rng),
				size[1] * unit(rng),
				size[2] * unit(rng),
			})
			if in.inside(p) {
				break
			}
		}
		particles.Rest(p, opts.Mass, opts.Volume, opts.Velocity, opts.Material).Store(buf, id)
	})
}

// unit returns a float32 in [0, 1).
func unit(rng *rand.PCG) float32 {
	return float32(rng.Uint64()>>40) / (1 << 24)
}

func (in *Initializer) Destroy() {
	if in.triangles != nil {
		in.triangles.Destroy()
		in.triangles = nil
	}
}
