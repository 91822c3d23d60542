package metrics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/particles"
)

// TotalEnergy is kinetic plus gravitational potential energy measured
// against the plane through the origin.
func TotalEnergy(ps []particles.Particle, gravity mgl32.Vec3) float64 {
	var e float64
	for _, p := range ps {
		m := float64(p.Mass)
		v := p.Velocity
		e += 0.5 * m * float64(v.Dot(v))
		e -= m * float64(gravity.Dot(p.Position))
	}
	return e
}

type Energy struct {
	name        string
	gravity     mgl32.Vec3
	samples     int
	totalEnergy float64
}

func NewEnergy(gravity mgl32.Vec3) *Energy {
	return &Energy{
		name:    "energy",
		gravity: gravity,
	}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(ps []particles.Particle, t float64) {
	e.totalEnergy += TotalEnergy(ps, e.gravity)
	e.samples++
}

func (e *Energy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.totalEnergy / float64(e.samples)
}

func (e *Energy) Reset() {
	e.totalEnergy = 0
	e.samples = 0
}

// EnergyDrift is the largest relative change of total energy from the
// first observed snapshot. Snow dissipates, so drift is expected to grow;
// a jump indicates an instability.
type EnergyDrift struct {
	name          string
	gravity       mgl32.Vec3
	initialEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift(gravity mgl32.Vec3) *EnergyDrift {
	return &EnergyDrift{
		name:    "energy_drift",
		gravity: gravity,
	}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(ps []particles.Particle, t float64) {
	energy := TotalEnergy(ps, e.gravity)
	if e.samples == 0 {
		e.initialEnergy = energy
	}
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}
