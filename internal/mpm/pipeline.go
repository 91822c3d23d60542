package mpm

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/particles"
	"github.com/san-kum/snowmpm/internal/sparsegrid"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

// ErrConfig is returned when a pipeline is built without its resources.
var ErrConfig = errors.New("mpm: invalid pipeline configuration")

// Phase names one dispatch of a simulation step.
type Phase int

const (
	PhaseClearHashMap Phase = iota
	PhaseMapAffectedBlocks
	PhaseParticleToGrid
	PhaseGridUpdate
	PhaseGridToParticle
)

// Phases lists the step phases in execution order.
var Phases = []Phase{
	PhaseClearHashMap,
	PhaseMapAffectedBlocks,
	PhaseParticleToGrid,
	PhaseGridUpdate,
	PhaseGridToParticle,
}

func (p Phase) String() string {
	switch p {
	case PhaseClearHashMap:
		return "clear_hash_map"
	case PhaseMapAffectedBlocks:
		return "map_affected_blocks"
	case PhaseParticleToGrid:
		return "p2g"
	case PhaseGridUpdate:
		return "grid_update"
	case PhaseGridToParticle:
		return "g2p"
	default:
		return "unknown"
	}
}

// Config wires a pipeline to resources owned elsewhere. The pipeline holds
// non-owning handles and never destroys them.
type Config struct {
	Uniforms  *compute.Buffer
	Particles *particles.Store
	Grid      *sparsegrid.Grid
	Material  Material
}

// Pipeline records simulation steps. Encode may be called for any number of
// frames; the command buffers run in submission order on the device queue.
type Pipeline struct {
	uniforms  *compute.Buffer
	particles *compute.Buffer
	count     uint32
	grid      *sparsegrid.Grid
	material  Material
	mu0       float32
	lambda0   float32

	// Written by the load dispatch at the start of each step, read by the
	// phases after it.
	params      uniforms.Params
	colliderInv mgl32.Mat4

	destroyed bool
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Uniforms == nil || cfg.Particles == nil || cfg.Grid == nil {
		return nil, fmt.Errorf("%w: uniforms, particles and grid are required", ErrConfig)
	}
	mu, lambda := cfg.Material.Lame()
	return &Pipeline{
		uniforms:  cfg.Uniforms,
		particles: cfg.Particles.Buffer(),
		count:     cfg.Particles.Count(),
		grid:      cfg.Grid,
		material:  cfg.Material,
		mu0:       mu,
		lambda0:   lambda,
	}, nil
}

// Params returns the parameters loaded by the most recent step.
func (p *Pipeline) Params() uniforms.Params { return p.params }

func (p *Pipeline) loadUniforms(uint32) {
	p.params = uniforms.Load(p.uniforms)
	p.colliderInv = p.params.ColliderTransform.Inv()
}

// Encode records n consecutive steps into pass. Each step re-clears and
// re-maps blocks because particles moved in the previous one.
func (p *Pipeline) Encode(pass *compute.ComputePass, n int) {
	gridCells := p.grid.MaxBlocks() * sparsegrid.CellsPerBlock
	if p.destroyed {
		return
	}
	for step := 0; step < n; step++ {
		pass.Dispatch("load uniforms", 1, p.loadUniforms)
		pass.Dispatch(PhaseClearHashMap.String(), p.grid.ClearInvocations(), p.grid.ClearKernel())
		pass.Dispatch(PhaseMapAffectedBlocks.String(), p.count, p.grid.MapKernel(p.particles, &p.params))
		pass.Dispatch(PhaseParticleToGrid.String(), p.count, p.particleToGrid)
		pass.Dispatch(PhaseGridUpdate.String(), gridCells, p.gridUpdate)
		pass.Dispatch(PhaseGridToParticle.String(), p.count, p.gridToParticle)
	}
}

// Destroy stops further recording. The pipeline owns no buffers, and
// steps already submitted still run against the handles they captured.
func (p *Pipeline) Destroy() { p.destroyed = true }
