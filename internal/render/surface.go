package render

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/particles"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

// surface owns the per-cell output buffer of a method, an optional scratch
// buffer, and the staging buffer the output is read back through.
type surface struct {
	dev         compute.Device
	label       string
	width       int
	height      int
	resized     bool
	withScratch bool
	decode      func(words []uint32, width, height int) string

	out     *compute.Buffer
	scratch *compute.Buffer
	staging *compute.Buffer
	ready   bool
	copied  bool
	err     error

	// Written by the camera dispatch.
	viewProj mgl32.Mat4

	mu       sync.Mutex
	image    string
	presents uint64
}

// newSurface describes a surface; buffers are allocated on first use. A
// scratch buffer holds one word per cell plus one.
func newSurface(dev compute.Device, label string, width, height int, withScratch bool,
	decode func([]uint32, int, int) string) surface {
	return surface{
		dev:         dev,
		label:       label,
		width:       max(width, 1),
		height:      max(height, 1),
		resized:     true,
		withScratch: withScratch,
		decode:      decode,
	}
}

func (s *surface) cells() int { return s.width * s.height }

func (s *surface) Resize(width, height int) {
	width, height = max(width, 1), max(height, 1)
	if width == s.width && height == s.height && s.out != nil {
		return
	}
	s.width, s.height = width, height
	s.resized = true
}

// ensure (re)allocates the buffers after a resize. Old buffers may still be
// referenced by submitted work; they are retired behind a queue fence.
func (s *surface) ensure() bool {
	s.ready = false
	if !s.resized {
		s.ready = s.out != nil
		return s.ready
	}
	retire(s.dev, s.out, s.scratch, s.staging)
	s.out, s.scratch, s.staging = nil, nil, nil

	size := uint64(s.cells()) * 4
	var err error
	if s.out, err = s.dev.CreateBuffer(compute.BufferDescriptor{
		Label: s.label + " output",
		Size:  size,
		Usage: compute.BufferUsageStorage | compute.BufferUsageCopySrc,
	}); err != nil {
		s.err = fmt.Errorf("render %s: %w", s.label, err)
		return false
	}
	if s.withScratch {
		if s.scratch, err = s.dev.CreateBuffer(compute.BufferDescriptor{
			Label: s.label + " scratch",
			Size:  size + 4,
			Usage: compute.BufferUsageStorage,
		}); err != nil {
			s.err = fmt.Errorf("render %s: %w", s.label, err)
			return false
		}
	}
	if s.staging, err = s.dev.CreateBuffer(compute.BufferDescriptor{
		Label: s.label + " staging",
		Size:  size,
		Usage: compute.BufferUsageMapRead | compute.BufferUsageCopyDst,
	}); err != nil {
		s.err = fmt.Errorf("render %s: %w", s.label, err)
		return false
	}
	s.resized = false
	s.ready = true
	slogger().Debug("render surface allocated", "method", s.label, "width", s.width, "height", s.height)
	return true
}

// loadCamera returns a single-invocation kernel caching the view-projection.
func (s *surface) loadCamera(f Frame) compute.Kernel {
	return func(uint32) {
		p := uniforms.Load(f.Uniforms)
		s.viewProj = p.Projection.Mul4(p.View)
	}
}

// project maps particle i to a sub-pixel of the canvas.
func (s *surface) project(f Frame, i uint32) (x, y int, ok bool) {
	base := i*particles.StrideWords + particles.WordPosition
	pos := mgl32.Vec4{f.Particles.F32(base), f.Particles.F32(base + 1), f.Particles.F32(base + 2), 1}
	clip := s.viewProj.Mul4x1(pos)
	if clip[3] <= 0 {
		return 0, 0, false
	}
	ndc := clip.Vec3().Mul(1 / clip[3])
	if ndc[0] < -1 || ndc[0] >= 1 || ndc[1] <= -1 || ndc[1] > 1 || ndc[2] < -1 || ndc[2] > 1 {
		return 0, 0, false
	}
	x = int((ndc[0] + 1) / 2 * float32(s.width*2))
	y = int((1 - ndc[1]) / 2 * float32(s.height*4))
	return min(x, s.width*2-1), min(y, s.height*4-1), true
}

// encodeCopy copies the output into staging unless the previous readback
// is still mapped; that frame's image is skipped.
func (s *surface) encodeCopy(enc *compute.CommandEncoder) {
	s.copied = false
	if !s.ready || s.staging.MapPending() {
		return
	}
	enc.CopyBufferToBuffer(s.out, 0, s.staging, 0, s.out.Size())
	s.copied = true
}

func (s *surface) Present() error {
	if s.err != nil {
		err := s.err
		s.err = nil
		return err
	}
	if !s.copied {
		return nil
	}
	s.copied = false
	staging, width, height := s.staging, s.width, s.height
	err := staging.MapAsync(func(err error) {
		if err != nil {
			slogger().Debug("render readback failed", "method", s.label, "err", err)
			return
		}
		data, err := staging.MappedRange()
		if err != nil {
			return
		}
		words := make([]uint32, len(data)/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(data[4*i:])
		}
		staging.Unmap()
		img := s.decode(words, width, height)
		s.mu.Lock()
		s.image = img
		s.presents++
		s.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("render %s readback: %w", s.label, err)
	}
	return nil
}

func (s *surface) Image() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// Presents counts completed readbacks.
func (s *surface) Presents() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

func (s *surface) Destroy() {
	retire(s.dev, s.out, s.scratch, s.staging)
	s.out, s.scratch, s.staging = nil, nil, nil
	s.ready = false
}

// retire destroys bufs once all work submitted so far has executed.
func retire(dev compute.Device, bufs ...*compute.Buffer) {
	live := bufs[:0]
	for _, b := range bufs {
		if b != nil {
			live = append(live, b)
		}
	}
	if len(live) == 0 {
		return
	}
	go func() {
		_ = dev.Queue().OnSubmittedWorkDone(context.Background())
		for _, b := range live {
			b.Destroy()
		}
	}()
}
