package perf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/san-kum/snowmpm/internal/compute"
)

var (
	// ErrUnsupported is returned when the device has no timestamp queries.
	ErrUnsupported = errors.New("perf: timestamp queries unsupported")

	// ErrReadPending is returned when the previous frame's readback has
	// not completed; the frame's timings are skipped.
	ErrReadPending = errors.New("perf: timestamp readback pending")
)

// Phase names of a frame.
const (
	PhaseScatter   = "scatter"
	PhaseSimulate  = "simulate"
	PhasePrerender = "prerender"
	PhaseRender    = "render"
)

// Timings holds GPU durations of the phases written in one frame.
type Timings map[string]time.Duration

// Harness writes begin/end timestamps around named passes into a fixed
// query set and reads them back asynchronously. A nil *Harness is valid
// and records nothing.
type Harness struct {
	querySet *compute.QuerySet
	resolve  *compute.Buffer
	result   *compute.Buffer
	phases   []string
	index    map[string]int

	mu      sync.Mutex
	written []string
	inRead  []string
}

// NewHarness allocates two queries per phase.
func NewHarness(dev compute.Device, phases ...string) (*Harness, error) {
	if !dev.Features().TimestampQuery {
		return nil, ErrUnsupported
	}
	if len(phases) == 0 {
		return nil, fmt.Errorf("perf: harness needs at least one phase")
	}
	h := &Harness{phases: phases, index: make(map[string]int, len(phases))}
	for i, p := range phases {
		h.index[p] = i
	}
	n := 2 * len(phases)
	var err error
	if h.querySet, err = dev.CreateQuerySet("perf timestamps", n); err != nil {
		return nil, err
	}
	size := uint64(n) * 8
	if h.resolve, err = dev.CreateBuffer(compute.BufferDescriptor{
		Label: "perf resolve",
		Size:  size,
		Usage: compute.BufferUsageQueryResolve | compute.BufferUsageCopySrc,
	}); err != nil {
		h.Destroy()
		return nil, err
	}
	if h.result, err = dev.CreateBuffer(compute.BufferDescriptor{
		Label: "perf result",
		Size:  size,
		Usage: compute.BufferUsageMapRead | compute.BufferUsageCopyDst,
	}); err != nil {
		h.Destroy()
		return nil, err
	}
	return h, nil
}

// Phases lists the phases the harness measures.
func (h *Harness) Phases() []string {
	if h == nil {
		return nil
	}
	return h.phases
}

// ComputePassTimestamps returns the timestamp writes for a pass measuring
// phase, or nil when the harness is absent or the phase unknown.
func (h *Harness) ComputePassTimestamps(phase string) *compute.PassTimestampWrites {
	if h == nil {
		return nil
	}
	i, ok := h.index[phase]
	if !ok {
		return nil
	}
	h.mu.Lock()
	if !slices.Contains(h.written, phase) {
		h.written = append(h.written, phase)
	}
	h.mu.Unlock()
	return &compute.PassTimestampWrites{
		QuerySet:   h.querySet,
		BeginIndex: uint32(2 * i),
		EndIndex:   uint32(2*i + 1),
	}
}

// Resolve records the query resolve and the copy into the mappable result
// buffer. It returns false, recording nothing, while the previous result
// is still mapped or in flight.
func (h *Harness) Resolve(enc *compute.CommandEncoder) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.MapPending() {
		h.written = h.written[:0]
		return false
	}
	n := uint32(2 * len(h.phases))
	enc.ResolveQuerySet(h.querySet, 0, n, h.resolve, 0)
	enc.CopyBufferToBuffer(h.resolve, 0, h.result, 0, uint64(n)*8)
	h.inRead = append(h.inRead[:0], h.written...)
	h.written = h.written[:0]
	return true
}

// ReadAsync maps the result buffer once prior work completes and calls cb
// with the frame's timings. cb runs on the device queue goroutine and must
// not submit work. A map already in flight yields ErrReadPending.
func (h *Harness) ReadAsync(cb func(Timings, error)) error {
	if h == nil {
		return nil
	}
	err := h.result.MapAsync(func(err error) {
		if err != nil {
			cb(nil, fmt.Errorf("perf readback: %w", err))
			return
		}
		data, err := h.result.MappedRange()
		if err != nil {
			cb(nil, fmt.Errorf("perf readback: %w", err))
			return
		}
		h.mu.Lock()
		t := make(Timings, len(h.inRead))
		for _, phase := range h.inRead {
			i := h.index[phase]
			begin := binary.LittleEndian.Uint64(data[16*i:])
			end := binary.LittleEndian.Uint64(data[16*i+8:])
			if end >= begin {
				t[phase] = time.Duration(end - begin)
			}
		}
		h.mu.Unlock()
		h.result.Unmap()
		cb(t, nil)
	})
	if errors.Is(err, compute.ErrMapPending) {
		return fmt.Errorf("%w: %w", ErrReadPending, err)
	}
	return err
}

// Destroy releases the query set and buffers.
func (h *Harness) Destroy() {
	if h == nil {
		return
	}
	if h.querySet != nil {
		h.querySet.Destroy()
		h.querySet = nil
	}
	for _, b := range []**compute.Buffer{&h.resolve, &h.result} {
		if *b != nil {
			(*b).Destroy()
			*b = nil
		}
	}
}
