package sim

import (
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/loop"
)

type options struct {
	device    compute.Device
	display   func(rate float64) loop.Display
	observers []Observer
}

// Option configures New.
type Option func(*options)

// WithDevice runs the session on an existing device. The session does not
// destroy it.
func WithDevice(dev compute.Device) Option {
	return func(o *options) { o.device = dev }
}

// WithDisplay replaces the ticker display the loop is driven by.
func WithDisplay(fn func(rate float64) loop.Display) Option {
	return func(o *options) { o.display = fn }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}
