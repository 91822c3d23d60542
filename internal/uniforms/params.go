package uniforms

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
)

// Params is the decoded uniform record as kernels see it.
type Params struct {
	View              mgl32.Mat4
	Projection        mgl32.Mat4
	InvViewProjection mgl32.Mat4
	ColliderTransform mgl32.Mat4
	ColliderVelocity  mgl32.Vec3
	Timestep          float32
	GridMin           mgl32.Vec3
	FixedPointScale   float32
	GridMax           mgl32.Vec3
	CellSize          float32
	GridResolution    [3]uint32
	ParticleCount     uint32
	HashMapSize       uint32
	MaxBlocks         uint32
	Method            Method
	FrameIndex        uint32
	Gravity           mgl32.Vec3
	SimTime           float32
	ColliderBoxMin    mgl32.Vec3
	ColliderEnabled   bool
	ColliderBoxMax    mgl32.Vec3
	ScreenSize        mgl32.Vec2
}

type wordSource func(i int) uint32

func (w wordSource) u32(off int) uint32 { return w(off / 4) }
func (w wordSource) f32(off int) float32 {
	return math.Float32frombits(w(off / 4))
}

func (w wordSource) vec2(off int) mgl32.Vec2 {
	return mgl32.Vec2{w.f32(off), w.f32(off + 4)}
}

func (w wordSource) vec3(off int) mgl32.Vec3 {
	return mgl32.Vec3{w.f32(off), w.f32(off + 4), w.f32(off + 8)}
}

func (w wordSource) mat4(off int) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = w.f32(off + 4*i)
	}
	return m
}

func decode(w wordSource) Params {
	return Params{
		View:              w.mat4(OffsetView),
		Projection:        w.mat4(OffsetProjection),
		InvViewProjection: w.mat4(OffsetInvViewProjection),
		ColliderTransform: w.mat4(OffsetColliderTransform),
		ColliderVelocity:  w.vec3(OffsetColliderVelocity),
		Timestep:          w.f32(OffsetTimestep),
		GridMin:           w.vec3(OffsetGridMin),
		FixedPointScale:   w.f32(OffsetFixedPointScale),
		GridMax:           w.vec3(OffsetGridMax),
		CellSize:          w.f32(OffsetCellSize),
		GridResolution:    [3]uint32{w.u32(OffsetGridResolution), w.u32(OffsetGridResolution + 4), w.u32(OffsetGridResolution + 8)},
		ParticleCount:     w.u32(OffsetParticleCount),
		HashMapSize:       w.u32(OffsetHashMapSize),
		MaxBlocks:         w.u32(OffsetMaxBlocks),
		Method:            Method(w.u32(OffsetMethod)),
		FrameIndex:        w.u32(OffsetFrameIndex),
		Gravity:           w.vec3(OffsetGravity),
		SimTime:           w.f32(OffsetSimTime),
		ColliderBoxMin:    w.vec3(OffsetColliderBoxMin),
		ColliderEnabled:   w.u32(OffsetColliderEnabled) != 0,
		ColliderBoxMax:    w.vec3(OffsetColliderBoxMax),
		ScreenSize:        w.vec2(OffsetScreenSize),
	}
}

// Load decodes the record from the device buffer. Kernels call it from a
// single-invocation dispatch at the start of a phase.
func Load(buf *compute.Buffer) Params {
	return decode(func(i int) uint32 { return buf.Word(uint32(i)) })
}

// Decode decodes a host-side copy of the record.
func Decode(data []byte) Params {
	return decode(func(i int) uint32 { return binary.LittleEndian.Uint32(data[4*i:]) })
}

// Params decodes the store's current host record.
func (s *Store) Params() Params { return Decode(s.data[:]) }
