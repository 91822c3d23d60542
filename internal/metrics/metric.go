package metrics

import "github.com/san-kum/snowmpm/internal/particles"

// Metric accumulates a diagnostic over particle snapshots taken at
// simulated time t.
type Metric interface {
	Name() string
	Observe(ps []particles.Particle, t float64)
	Value() float64
	Reset()
}

// Collect observes one snapshot with every metric and returns their values.
func Collect(ps []particles.Particle, t float64, ms ...Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Observe(ps, t)
		out[m.Name()] = m.Value()
	}
	return out
}
