package uniforms

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
)

// Store is the single uniform record shared by every pipeline phase. The
// host edits a CPU copy in place; Flush pushes the dirty byte range to the
// device through the queue, ordered before the next submission.
type Store struct {
	buf     *compute.Buffer
	data    [Size]byte
	dirtyLo int
	dirtyHi int
	version uint64
}

// New allocates the uniform buffer on dev. The Store owns it.
func New(dev compute.Device) (*Store, error) {
	buf, err := dev.CreateBuffer(compute.BufferDescriptor{
		Label: "uniforms",
		Size:  Size,
		Usage: compute.BufferUsageUniform | compute.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("uniform buffer: %w", err)
	}
	s := &Store{buf: buf}
	s.SetMat4(OffsetView, mgl32.Ident4())
	s.SetMat4(OffsetProjection, mgl32.Ident4())
	s.SetMat4(OffsetInvViewProjection, mgl32.Ident4())
	s.SetMat4(OffsetColliderTransform, mgl32.Ident4())
	return s, nil
}

// Buffer returns a non-owning handle to the device buffer.
func (s *Store) Buffer() *compute.Buffer { return s.buf }

// Version increases on every mutation.
func (s *Store) Version() uint64 { return s.version }

// Dirty reports whether there are unflushed writes.
func (s *Store) Dirty() bool { return s.dirtyHi > s.dirtyLo }

func (s *Store) touch(off, n int) {
	if !s.Dirty() {
		s.dirtyLo, s.dirtyHi = off, off+n
	} else {
		s.dirtyLo = min(s.dirtyLo, off)
		s.dirtyHi = max(s.dirtyHi, off+n)
	}
	s.version++
}

func (s *Store) SetU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.data[off:], v)
	s.touch(off, 4)
}

func (s *Store) SetF32(off int, v float32) {
	binary.LittleEndian.PutUint32(s.data[off:], math.Float32bits(v))
	s.touch(off, 4)
}

func (s *Store) SetVec2(off int, v mgl32.Vec2) {
	for i, c := range v {
		binary.LittleEndian.PutUint32(s.data[off+4*i:], math.Float32bits(c))
	}
	s.touch(off, 8)
}

func (s *Store) SetVec3(off int, v mgl32.Vec3) {
	for i, c := range v {
		binary.LittleEndian.PutUint32(s.data[off+4*i:], math.Float32bits(c))
	}
	s.touch(off, 12)
}

func (s *Store) SetVec3u(off int, v [3]uint32) {
	for i, c := range v {
		binary.LittleEndian.PutUint32(s.data[off+4*i:], c)
	}
	s.touch(off, 12)
}

// SetMat4 writes a column-major matrix.
func (s *Store) SetMat4(off int, m mgl32.Mat4) {
	for i, c := range m {
		binary.LittleEndian.PutUint32(s.data[off+4*i:], math.Float32bits(c))
	}
	s.touch(off, 64)
}

// SetCamera writes view, projection and their combined inverse.
func (s *Store) SetCamera(view, proj mgl32.Mat4) {
	s.SetMat4(OffsetView, view)
	s.SetMat4(OffsetProjection, proj)
	s.SetMat4(OffsetInvViewProjection, proj.Mul4(view).Inv())
}

func (s *Store) SetColliderTransform(m mgl32.Mat4) { s.SetMat4(OffsetColliderTransform, m) }
func (s *Store) SetColliderVelocity(v mgl32.Vec3) { s.SetVec3(OffsetColliderVelocity, v) }
func (s *Store) SetTimestep(dt float32) { s.SetF32(OffsetTimestep, dt) }
func (s *Store) SetMethod(m Method) { s.SetU32(OffsetMethod, uint32(m)) }
func (s *Store) SetGravity(g mgl32.Vec3) { s.SetVec3(OffsetGravity, g) }
func (s *Store) SetParticleCount(n uint32) { s.SetU32(OffsetParticleCount, n) }
func (s *Store) SetScreenSize(w, h float32) { s.SetVec2(OffsetScreenSize, mgl32.Vec2{w, h}) }

// SetFrame writes the frame counter and simulated time.
func (s *Store) SetFrame(index uint32, simTime float32) {
	s.SetU32(OffsetFrameIndex, index)
	s.SetF32(OffsetSimTime, simTime)
}

func (s *Store) SetCapacity(hashMapSize, maxBlocks uint32) {
	s.SetU32(OffsetHashMapSize, hashMapSize)
	s.SetU32(OffsetMaxBlocks, maxBlocks)
}

// SetGrid writes the grid bounds, resolution, cell size and fixed-point scale.
func (s *Store) SetGrid(gridMin, gridMax mgl32.Vec3, res [3]uint32, cellSize, fixedPointScale float32) {
	s.SetVec3(OffsetGridMin, gridMin)
	s.SetVec3(OffsetGridMax, gridMax)
	s.SetVec3u(OffsetGridResolution, res)
	s.SetF32(OffsetCellSize, cellSize)
	s.SetF32(OffsetFixedPointScale, fixedPointScale)
}

// SetColliderBox writes the collider's local bounding box; an empty box
// disables collision response.
func (s *Store) SetColliderBox(lo, hi mgl32.Vec3, enabled bool) {
	s.SetVec3(OffsetColliderBoxMin, lo)
	s.SetVec3(OffsetColliderBoxMax, hi)
	var e uint32
	if enabled {
		e = 1
	}
	s.SetU32(OffsetColliderEnabled, e)
}

// Bytes returns a copy of the host record.
func (s *Store) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, s.data[:])
	return out
}

// Flush writes the dirty range to the device. Writes are ordered relative
// to submissions by the queue, so no host locking is needed.
func (s *Store) Flush(q *compute.Queue) error {
	if !s.Dirty() {
		return nil
	}
	lo := s.dirtyLo &^ 3
	hi := (s.dirtyHi + 3) &^ 3
	if err := q.WriteBuffer(s.buf, uint64(lo), s.data[lo:hi]); err != nil {
		return fmt.Errorf("flush uniforms: %w", err)
	}
	s.dirtyLo, s.dirtyHi = 0, 0
	return nil
}

// Destroy releases the uniform buffer.
func (s *Store) Destroy() {
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
}
