package mpm

// Material holds constitutive constants. They are fixed for a pipeline's
// lifetime; the method selector lives in the uniform record.
type Material struct {
	YoungsModulus float32
	PoissonRatio  float32
	// Hardening scales Lamé parameters by exp(Hardening·(1-Jp)).
	Hardening float32
	// Singular values of F are clamped to [1-CriticalCompression, 1+CriticalStretch].
	CriticalCompression float32
	CriticalStretch     float32
	BulkModulus         float32
}

// DefaultMaterial matches the snow parameters of Stomakhin et al.
func DefaultMaterial() Material {
	return Material{
		YoungsModulus:       1.4e4,
		PoissonRatio:        0.2,
		Hardening:           10,
		CriticalCompression: 2.5e-2,
		CriticalStretch:     7.5e-3,
		BulkModulus:         4e3,
	}
}

// Lame returns the initial shear and dilational Lamé parameters.
func (m Material) Lame() (mu, lambda float32) {
	e, nu := m.YoungsModulus, m.PoissonRatio
	return e / (2 * (1 + nu)), e * nu / ((1 + nu) * (1 - 2*nu))
}
