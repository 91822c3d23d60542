package compute

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

const (
	mapStateUnmapped int32 = iota
	mapStatePending
	mapStateMapped
)

// Buffer is device memory addressed as little-endian 32-bit words.
//
// Kernels use the word accessors; the host writes through Queue.WriteBuffer
// and reads through MapAsync on a BufferUsageMapRead buffer.
type Buffer struct {
	label string
	usage BufferUsage
	words []uint32
	queue *Queue

	mapState  atomic.Int32
	mapMu     sync.Mutex
	mapped    []byte
	destroyed atomic.Bool
}

func newBuffer(desc BufferDescriptor, q *Queue) *Buffer {
	n := (desc.Size + 3) / 4
	return &Buffer{
		label: desc.Label,
		usage: desc.Usage,
		words: make([]uint32, n),
		queue: q,
	}
}

func (b *Buffer) Label() string      { return b.label }
func (b *Buffer) Usage() BufferUsage { return b.usage }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return uint64(len(b.words)) * 4 }

// Len returns the buffer size in words.
func (b *Buffer) Len() uint32 { return uint32(len(b.words)) }

// Destroy releases the buffer. Only the owning component calls it.
func (b *Buffer) Destroy() {
	if b.destroyed.Swap(true) {
		return
	}
	b.mapMu.Lock()
	b.mapped = nil
	b.mapMu.Unlock()
	b.mapState.Store(mapStateUnmapped)
}

// Destroyed reports whether Destroy has been called.
func (b *Buffer) Destroyed() bool { return b.destroyed.Load() }

// Load atomically reads word i.
func (b *Buffer) Load(i uint32) uint32 { return atomic.LoadUint32(&b.words[i]) }

// Store atomically writes word i.
func (b *Buffer) Store(i, v uint32) { atomic.StoreUint32(&b.words[i], v) }

// AtomicAdd adds a signed delta to word i and returns the new value.
func (b *Buffer) AtomicAdd(i uint32, delta int32) int32 {
	return int32(atomic.AddUint32(&b.words[i], uint32(delta)))
}

// AtomicOr ors mask into word i and returns the old value.
func (b *Buffer) AtomicOr(i, mask uint32) uint32 {
	return atomic.OrUint32(&b.words[i], mask)
}

// CompareAndSwap swaps word i from old to v, reporting success.
func (b *Buffer) CompareAndSwap(i, old, v uint32) bool {
	return atomic.CompareAndSwapUint32(&b.words[i], old, v)
}

// Word reads word i without synchronisation. Valid for words only this
// invocation writes in the current dispatch, or words written by a previous
// dispatch.
func (b *Buffer) Word(i uint32) uint32 { return b.words[i] }

// SetWord writes word i without synchronisation; see Word.
func (b *Buffer) SetWord(i, v uint32) { b.words[i] = v }

// F32 reads word i as a float32.
func (b *Buffer) F32(i uint32) float32 { return math.Float32frombits(b.words[i]) }

// SetF32 writes word i as a float32.
func (b *Buffer) SetF32(i uint32, v float32) { b.words[i] = math.Float32bits(v) }

// Fill sets words [from, to) to v.
func (b *Buffer) Fill(from, to, v uint32) {
	w := b.words[from:to]
	for i := range w {
		w[i] = v
	}
}

func (b *Buffer) check(offset, size uint64) error {
	if b.destroyed.Load() {
		return fmt.Errorf("%w: buffer %q", ErrDestroyed, b.label)
	}
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: buffer %q offset %d size %d not word aligned", ErrOutOfRange, b.label, offset, size)
	}
	if offset+size > b.Size() {
		return fmt.Errorf("%w: buffer %q offset %d size %d exceeds %d", ErrOutOfRange, b.label, offset, size, b.Size())
	}
	return nil
}

func (b *Buffer) writeBytes(offset uint64, data []byte) {
	base := offset / 4
	for i := 0; i+4 <= len(data); i += 4 {
		b.words[base+uint64(i/4)] = binary.LittleEndian.Uint32(data[i:])
	}
}

func (b *Buffer) readBytes() []byte {
	out := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// MapAsync requests host access to the buffer once all previously submitted
// work has completed. The callback runs on the queue goroutine. A buffer
// with a map pending or active rejects the request with ErrMapPending.
func (b *Buffer) MapAsync(callback func(error)) error {
	if b.usage&BufferUsageMapRead == 0 {
		return fmt.Errorf("%w: buffer %q is not mappable", ErrInvalidUsage, b.label)
	}
	if b.destroyed.Load() {
		return fmt.Errorf("%w: buffer %q", ErrDestroyed, b.label)
	}
	if !b.mapState.CompareAndSwap(mapStateUnmapped, mapStatePending) {
		return fmt.Errorf("%w: buffer %q", ErrMapPending, b.label)
	}
	b.queue.enqueue(queueOp{
		label: "map " + b.label,
		exec: func() error {
			if b.destroyed.Load() {
				return fmt.Errorf("%w: buffer %q", ErrDestroyed, b.label)
			}
			b.mapMu.Lock()
			b.mapped = b.readBytes()
			b.mapMu.Unlock()
			b.mapState.Store(mapStateMapped)
			return nil
		},
		done: func(err error) {
			if err != nil {
				b.mapState.Store(mapStateUnmapped)
			}
			if callback != nil {
				callback(err)
			}
		},
	})
	return nil
}

// MapPending reports whether a map is in flight or active.
func (b *Buffer) MapPending() bool { return b.mapState.Load() != mapStateUnmapped }

// MappedRange returns the mapped bytes. The slice is valid until Unmap.
func (b *Buffer) MappedRange() ([]byte, error) {
	if b.mapState.Load() != mapStateMapped {
		return nil, fmt.Errorf("%w: buffer %q", ErrNotMapped, b.label)
	}
	b.mapMu.Lock()
	defer b.mapMu.Unlock()
	return b.mapped, nil
}

// Unmap releases host access.
func (b *Buffer) Unmap() {
	b.mapMu.Lock()
	b.mapped = nil
	b.mapMu.Unlock()
	b.mapState.CompareAndSwap(mapStateMapped, mapStateUnmapped)
}
