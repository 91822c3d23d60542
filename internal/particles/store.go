package particles

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/snowmpm/internal/compute"
)

// ErrCount is returned when an upload does not match the fixed particle count.
var ErrCount = errors.New("particles: count mismatch")

// Store owns the particle buffer. The count is fixed for its lifetime.
type Store struct {
	buf   *compute.Buffer
	count uint32
}

// New allocates storage for count particles on dev.
func New(dev compute.Device, count uint32) (*Store, error) {
	if count == 0 {
		return nil, fmt.Errorf("%w: zero particles", ErrCount)
	}
	buf, err := dev.CreateBuffer(compute.BufferDescriptor{
		Label: "particles",
		Size:  uint64(count) * Stride,
		Usage: compute.BufferUsageStorage | compute.BufferUsageCopySrc | compute.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("particle buffer: %w", err)
	}
	return &Store{buf: buf, count: count}, nil
}

// Buffer returns a non-owning handle to the particle buffer.
func (s *Store) Buffer() *compute.Buffer { return s.buf }

func (s *Store) Count() uint32 { return s.count }

// Upload writes ps through the queue. The host copy can be dropped as soon
// as Upload returns.
func (s *Store) Upload(q *compute.Queue, ps []Particle) error {
	if uint32(len(ps)) != s.count {
		return fmt.Errorf("%w: upload %d into %d", ErrCount, len(ps), s.count)
	}
	data := make([]byte, len(ps)*Stride)
	for i, p := range ps {
		p.Encode(data[i*Stride:])
	}
	return q.WriteBuffer(s.buf, 0, data)
}

// Snapshot reads every particle back. It waits for all submitted work and
// is not meant for the frame loop.
func (s *Store) Snapshot(ctx context.Context, dev compute.Device) ([]Particle, error) {
	data, err := compute.ReadBuffer(ctx, dev, s.buf)
	if err != nil {
		return nil, fmt.Errorf("particle snapshot: %w", err)
	}
	return DecodeAll(data), nil
}

func (s *Store) Destroy() {
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
}
