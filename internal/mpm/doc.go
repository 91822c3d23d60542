// Package mpm implements the MLS-MPM transfer pipeline over the sparse grid.
//
// One simulation step is five dispatches recorded into a compute pass, each
// separated by the pass barrier:
//
//	ClearHashMap → MapAffectedBlocks → ParticleToGrid → GridUpdate → GridToParticle
//
// All kernel math runs in grid units (one cell is length 1). Particle
// records keep world positions and velocities; kernels convert on load and
// store. Mass and momentum are accumulated in fixed point so concurrent
// particles can add into the same cell atomically.
//
// Two constitutive variants exist, selected by the uniform method field:
// snow (fixed-corotated elastoplastic with hardening) and fluid (weakly
// compressible, volume ratio tracked in Jp).
package mpm
