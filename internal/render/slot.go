package render

import (
	"sync"

	"github.com/san-kum/snowmpm/internal/compute"
)

// Slot holds the active render method and replaces it on request. The
// frame loop reads it every tick while controls may swap it at any time.
type Slot struct {
	dev compute.Device

	mu     sync.Mutex
	method Method
	width  int
	height int

	// encoded recorded the frame awaiting Present. Replaced methods stay
	// alive until that frame is submitted.
	encoded Method
	retired []Method
}

func NewSlot(dev compute.Device, kind Kind, width, height int) (*Slot, error) {
	m, err := New(dev, kind, width, height)
	if err != nil {
		return nil, err
	}
	return &Slot{dev: dev, method: m, width: width, height: height}, nil
}

// Set replaces the active method. Setting the active kind is a no-op. The
// old method is destroyed on the next Present, once every frame that
// recorded it has been submitted.
func (s *Slot) Set(kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.method != nil && s.method.Kind() == kind {
		return nil
	}
	m, err := New(s.dev, kind, s.width, s.height)
	if err != nil {
		return err
	}
	if s.method != nil {
		s.retired = append(s.retired, s.method)
	}
	s.method = m
	slogger().Info("render method changed", "method", kind)
	return nil
}

// Kind returns the active kind, or -1 after Destroy.
func (s *Slot) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.method == nil {
		return -1
	}
	return s.method.Kind()
}

func (s *Slot) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	if s.method != nil {
		s.method.Resize(width, height)
	}
}

// Encode records the active method's prerender and draw passes.
func (s *Slot) Encode(enc *compute.CommandEncoder, f Frame, prerender, draw *compute.PassTimestampWrites) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.method == nil {
		return
	}
	s.method.AddPrerenderPasses(enc, f, prerender)
	s.method.AddDraw(enc, f, draw)
	s.encoded = s.method
}

// Present requests the readback of the frame just submitted through the
// method that recorded it, then releases replaced methods.
func (s *Slot) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.encoded != nil {
		err = s.encoded.Present()
		s.encoded = nil
	}
	s.releaseRetired()
	return err
}

func (s *Slot) releaseRetired() {
	for _, m := range s.retired {
		m.Destroy()
	}
	s.retired = nil
}

func (s *Slot) Image() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.method == nil {
		return ""
	}
	return s.method.Image()
}

func (s *Slot) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseRetired()
	if s.method != nil {
		s.method.Destroy()
		s.method = nil
	}
	s.encoded = nil
}
