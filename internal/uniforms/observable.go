package uniforms

import "sync"

// Value holds one observed parameter. Set notifies subscribers only when
// the value actually changes; there is no implicit recomputation.
type Value[T comparable] struct {
	mu     sync.Mutex
	v      T
	nextID int
	subs   map[int]func(T)
}

// NewValue returns a Value holding v.
func NewValue[T comparable](v T) *Value[T] {
	return &Value[T]{v: v, subs: make(map[int]func(T))}
}

func (o *Value[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.v
}

// Set stores v and reports whether it differed from the previous value.
// Subscribers run synchronously on the caller's goroutine, outside the lock.
func (o *Value[T]) Set(v T) bool {
	o.mu.Lock()
	if o.v == v {
		o.mu.Unlock()
		return false
	}
	o.v = v
	fns := make([]func(T), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
	return true
}

// Subscribe registers fn and returns a function that removes it.
func (o *Value[T]) Subscribe(fn func(T)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]func(T))
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}
