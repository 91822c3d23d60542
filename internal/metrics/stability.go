package metrics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/particles"
)

// Stability is the fraction of snapshots in which every particle is finite
// and inside the domain.
type Stability struct {
	name       string
	lo, hi     mgl32.Vec3
	violations int
	samples    int
}

func NewStability(lo, hi mgl32.Vec3) *Stability {
	return &Stability{
		name: "stability",
		lo:   lo,
		hi:   hi,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(ps []particles.Particle, t float64) {
	s.samples++
	for _, p := range ps {
		if !s.valid(p) {
			s.violations++
			break
		}
	}
}

func (s *Stability) valid(p particles.Particle) bool {
	for axis := 0; axis < 3; axis++ {
		x := p.Position[axis]
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) || x < s.lo[axis] || x > s.hi[axis] {
			return false
		}
	}
	return true
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
