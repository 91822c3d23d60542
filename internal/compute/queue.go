package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type queueOp struct {
	label string
	exec  func() error
	done  func(error)
}

// Queue executes submitted work in submission order on its own goroutine.
// Submit and WriteBuffer return immediately; the host only waits when it
// asks to (OnSubmittedWorkDone, MapAsync callbacks).
type Queue struct {
	x    executor
	ops  chan queueOp
	lost func(LostReason, error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	failed error
}

func newQueue(x executor, depth int, lost func(LostReason, error)) *Queue {
	if depth < 1 {
		depth = 16
	}
	q := &Queue{
		x:    x,
		ops:  make(chan queueOp, depth),
		lost: lost,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for op := range q.ops {
		if q.failed != nil {
			if op.done != nil {
				op.done(q.failed)
			}
			continue
		}
		var err error
		if op.exec != nil {
			err = op.exec()
		}
		if err != nil && errors.Is(err, ErrDeviceLost) {
			q.failed = err
			q.lost(LostReasonFault, err)
		} else if err != nil {
			slogger().Error("queue operation failed", "op", op.label, "err", err)
		}
		if op.done != nil {
			op.done(err)
		}
	}
}

func (q *Queue) enqueue(op queueOp) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if op.done != nil {
			op.done(ErrDeviceLost)
		}
		return
	}
	// The lock is held across the send so close cannot race it; a full
	// channel blocks the submitter, which is the queue's backpressure.
	q.ops <- op
	q.mu.Unlock()
}

// Submit schedules command buffers for execution in order.
func (q *Queue) Submit(cbs ...*CommandBuffer) {
	for _, cb := range cbs {
		if cb == nil {
			continue
		}
		cb := cb
		q.enqueue(queueOp{
			label: "submit " + cb.label,
			exec:  func() error { return cb.execute(q.x) },
		})
	}
}

// WriteBuffer copies data into buf at offset, ordered after all previously
// submitted work. The data slice is copied before WriteBuffer returns.
func (q *Queue) WriteBuffer(buf *Buffer, offset uint64, data []byte) error {
	if err := buf.check(offset, uint64(len(data))); err != nil {
		return err
	}
	if buf.usage&(BufferUsageCopyDst|BufferUsageUniform) == 0 {
		return fmt.Errorf("%w: write into %q", ErrInvalidUsage, buf.label)
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	q.enqueue(queueOp{
		label: "write " + buf.label,
		exec: func() error {
			if buf.Destroyed() {
				return fmt.Errorf("%w: buffer %q", ErrDestroyed, buf.label)
			}
			buf.writeBytes(offset, owned)
			return nil
		},
	})
	return nil
}

// OnSubmittedWorkDone blocks until everything submitted so far has executed.
func (q *Queue) OnSubmittedWorkDone(ctx context.Context) error {
	done := make(chan error, 1)
	q.enqueue(queueOp{
		label: "fence",
		done:  func(err error) { done <- err },
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ops)
	q.mu.Unlock()
	q.wg.Wait()
}
