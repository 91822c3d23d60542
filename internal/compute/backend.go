package compute

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/snowmpm/internal/logging"
)

// WorkgroupSize is the invocation count of one workgroup for every kernel.
const WorkgroupSize = 64

// Kernel is the body of a compute shader, invoked once per global invocation id.
type Kernel func(id uint32)

// BufferUsage is a bit set of the ways a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageMapRead
	BufferUsageQueryResolve
)

// BufferDescriptor describes a buffer to create. Size is in bytes and is
// rounded up to a whole number of 32-bit words.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Features reports optional device capabilities.
type Features struct {
	TimestampQuery   bool
	StorageAtomicCAS bool
}

// Limits reports device resource limits.
type Limits struct {
	MaxBufferSize     uint64
	MaxQuerySetCount  int
	MaxDispatchInvocs uint32
}

// LostReason classifies a device loss.
type LostReason int

const (
	LostReasonUnknown LostReason = iota
	LostReasonDestroyed
	LostReasonFault
)

func (r LostReason) String() string {
	switch r {
	case LostReasonDestroyed:
		return "destroyed"
	case LostReasonFault:
		return "fault"
	default:
		return "unknown"
	}
}

// LostInfo is delivered once on Device.Lost.
type LostInfo struct {
	Reason LostReason
	Err    error
}

// Device is a compute device. Resources it creates are owned by exactly one
// component each; Destroy on the device releases whatever is left.
type Device interface {
	Name() string
	Features() Features
	Limits() Limits
	CreateBuffer(desc BufferDescriptor) (*Buffer, error)
	CreateQuerySet(label string, count int) (*QuerySet, error)
	CreateCommandEncoder(label string) *CommandEncoder
	Queue() *Queue
	Lost() <-chan LostInfo
	Destroy()
}

// Options configures device acquisition.
type Options struct {
	// Backend selects the device implementation. Empty means "cpu".
	Backend string
	// Workers bounds concurrent workgroups. Zero means runtime.NumCPU().
	Workers int
	// DisableTimestamps hides the timestamp-query feature.
	DisableTimestamps bool
	// QueueDepth bounds pending submissions before Submit blocks.
	QueueDepth int
}

// RequestDevice acquires a device. It fails with ErrNoAdapter when the
// requested backend is not available.
func RequestDevice(ctx context.Context, opts Options) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch opts.Backend {
	case "", "cpu":
		dev := NewCPUDevice(opts)
		slogger().Info("compute device acquired", "backend", dev.Name(), "workers", dev.workers,
			"timestamps", dev.features.TimestampQuery)
		return dev, nil
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrNoAdapter, opts.Backend)
	}
}

// Backends lists the backend names RequestDevice accepts.
func Backends() []string {
	return []string{"cpu"}
}

func slogger() *slog.Logger { return logging.For("compute") }
