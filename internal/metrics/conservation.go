package metrics

import (
	"math"

	"github.com/san-kum/snowmpm/internal/particles"
)

// MassConservation is the largest relative change of total mass from the
// first snapshot. Particles carry fixed mass, so anything above rounding
// means records were corrupted.
type MassConservation struct {
	name    string
	initial float64
	maxDiff float64
	samples int
}

func NewMassConservation() *MassConservation {
	return &MassConservation{name: "mass_drift"}
}

func (m *MassConservation) Name() string { return m.name }

func (m *MassConservation) Observe(ps []particles.Particle, t float64) {
	var total float64
	for _, p := range ps {
		total += float64(p.Mass)
	}
	if m.samples == 0 {
		m.initial = total
	}
	m.samples++
	if m.initial != 0 {
		m.maxDiff = math.Max(m.maxDiff, math.Abs(total-m.initial)/m.initial)
	}
}

func (m *MassConservation) Value() float64 { return m.maxDiff }

func (m *MassConservation) Reset() {
	m.initial, m.maxDiff, m.samples = 0, 0, 0
}

// Compression is the mean plastic volume ratio deviation |Jp-1|.
type Compression struct {
	name    string
	sum     float64
	samples int
}

func NewCompression() *Compression {
	return &Compression{
		name: "compression",
	}
}

func (c *Compression) Name() string {
	return c.name
}

func (c *Compression) Observe(ps []particles.Particle, t float64) {
	if len(ps) == 0 {
		return
	}
	var s float64
	for _, p := range ps {
		s += math.Abs(float64(p.Jp) - 1)
	}
	c.sum += s / float64(len(ps))
	c.samples++
}

func (c *Compression) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *Compression) Reset() {
	c.sum = 0
	c.samples = 0
}
