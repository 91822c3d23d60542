package compute

import (
	"fmt"
	"sync/atomic"
)

// QuerySet holds timestamp queries written by passes.
type QuerySet struct {
	label     string
	values    []uint64
	destroyed atomic.Bool
}

func (q *QuerySet) Label() string { return q.label }
func (q *QuerySet) Count() int    { return len(q.values) }

// Destroy releases the query set.
func (q *QuerySet) Destroy() { q.destroyed.Store(true) }

func (q *QuerySet) write(i uint32, v uint64) error {
	if q.destroyed.Load() {
		return fmt.Errorf("%w: query set %q", ErrDestroyed, q.label)
	}
	if int(i) >= len(q.values) {
		return fmt.Errorf("%w: query %d of %q (count %d)", ErrOutOfRange, i, q.label, len(q.values))
	}
	q.values[i] = v
	return nil
}

func (q *QuerySet) read(first, count uint32) ([]uint64, error) {
	if q.destroyed.Load() {
		return nil, fmt.Errorf("%w: query set %q", ErrDestroyed, q.label)
	}
	if int(first+count) > len(q.values) {
		return nil, fmt.Errorf("%w: queries [%d,%d) of %q", ErrOutOfRange, first, first+count, q.label)
	}
	out := make([]uint64, count)
	copy(out, q.values[first:first+count])
	return out, nil
}
