package compute

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	cpuMaxBufferSize = 1 << 34
	cpuMaxQueries    = 4096
)

// CPUDevice runs kernels on goroutines, one task per chunk of workgroups.
type CPUDevice struct {
	workers  int
	features Features
	epoch    time.Time
	queue    *Queue

	lost     chan LostInfo
	lostOnce sync.Once

	mu       sync.Mutex
	buffers  []*Buffer
	queries  []*QuerySet
	released bool
}

// NewCPUDevice creates a CPU device.
func NewCPUDevice(opts Options) *CPUDevice {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	d := &CPUDevice{
		workers: workers,
		features: Features{
			TimestampQuery:   !opts.DisableTimestamps,
			StorageAtomicCAS: true,
		},
		epoch: time.Now(),
		lost:  make(chan LostInfo, 1),
	}
	d.queue = newQueue(d, opts.QueueDepth, d.markLost)
	return d
}

func (d *CPUDevice) Name() string       { return "cpu" }
func (d *CPUDevice) Features() Features { return d.features }
func (d *CPUDevice) Queue() *Queue      { return d.queue }

func (d *CPUDevice) Limits() Limits {
	return Limits{
		MaxBufferSize:     cpuMaxBufferSize,
		MaxQuerySetCount:  cpuMaxQueries,
		MaxDispatchInvocs: ^uint32(0),
	}
}

// Lost delivers one LostInfo when the device is destroyed or faults.
func (d *CPUDevice) Lost() <-chan LostInfo { return d.lost }

func (d *CPUDevice) markLost(reason LostReason, err error) {
	d.lostOnce.Do(func() {
		slogger().Error("compute device lost", "reason", reason, "err", err)
		d.lost <- LostInfo{Reason: reason, Err: err}
	})
}

func (d *CPUDevice) CreateBuffer(desc BufferDescriptor) (*Buffer, error) {
	if desc.Size == 0 || desc.Size > cpuMaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q size %d", ErrOutOfRange, desc.Label, desc.Size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, fmt.Errorf("%w: create buffer %q", ErrDeviceLost, desc.Label)
	}
	b := newBuffer(desc, d.queue)
	d.buffers = append(d.buffers, b)
	slogger().Debug("buffer created", "label", desc.Label, "bytes", b.Size())
	return b, nil
}

func (d *CPUDevice) CreateQuerySet(label string, count int) (*QuerySet, error) {
	if !d.features.TimestampQuery {
		return nil, fmt.Errorf("%w: timestamp queries unsupported", ErrInvalidUsage)
	}
	if count <= 0 || count > cpuMaxQueries {
		return nil, fmt.Errorf("%w: query set %q count %d", ErrOutOfRange, label, count)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, fmt.Errorf("%w: create query set %q", ErrDeviceLost, label)
	}
	qs := &QuerySet{label: label, values: make([]uint64, count)}
	d.queries = append(d.queries, qs)
	return qs, nil
}

func (d *CPUDevice) CreateCommandEncoder(label string) *CommandEncoder {
	return newCommandEncoder(label)
}

// Destroy drains the queue, releases every remaining resource and reports
// the device as lost.
func (d *CPUDevice) Destroy() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.mu.Unlock()

	d.queue.close()

	d.mu.Lock()
	for _, b := range d.buffers {
		b.Destroy()
	}
	for _, q := range d.queries {
		q.Destroy()
	}
	d.buffers, d.queries = nil, nil
	d.mu.Unlock()
	d.markLost(LostReasonDestroyed, ErrDeviceLost)
}

func (d *CPUDevice) timestamp() uint64 {
	return uint64(time.Since(d.epoch).Nanoseconds())
}

// dispatch runs n invocations. Workgroups are split into contiguous chunks,
// one errgroup task per worker; the call returns only after every
// invocation finished, which is the barrier between dispatches.
func (d *CPUDevice) dispatch(label string, n uint32, k Kernel) error {
	if n == 0 {
		return nil
	}
	groups := (n + WorkgroupSize - 1) / WorkgroupSize
	if d.workers <= 1 || groups <= 1 {
		return runInvocations(label, 0, n, k)
	}

	tasks := uint32(d.workers)
	if groups < tasks {
		tasks = groups
	}
	groupsPerTask := (groups + tasks - 1) / tasks

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(d.workers)
	for t := uint32(0); t < tasks; t++ {
		start := t * groupsPerTask * WorkgroupSize
		if start >= n {
			break
		}
		end := start + groupsPerTask*WorkgroupSize
		if end > n || end < start {
			end = n
		}
		g.Go(func() error { return runInvocations(label, start, end, k) })
	}
	return g.Wait()
}

func runInvocations(label string, start, end uint32, k Kernel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: kernel %q panicked: %v", ErrDeviceLost, label, r)
		}
	}()
	for id := start; id < end; id++ {
		k(id)
	}
	return nil
}
