package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

const (
	DefaultParticles       = 20000
	DefaultResolution      = 64
	DefaultCellSize        = 0.05
	DefaultFixedPointScale = 1e5
	DefaultSnowTimestep    = 1.0 / 144.0
	DefaultFluidTimestep   = 1.0 / 240.0
	DefaultDriftThreshold  = 250.0
	DefaultRefreshRate     = 60.0
	DefaultGravity         = -9.8

	// BlockEdge is the edge length, in cells, of one sparse grid block.
	BlockEdge = 4
	// MaxBlocksPerAxis is bounded by the 10-bit per-axis block key packing.
	MaxBlocksPerAxis = 1 << 10
)

var (
	Methods       = []string{"snow", "fluid"}
	HashFunctions = []string{"xxhash", "murmur3"}
	RenderMethods = []string{"points", "density"}
)

type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Simulation SimulationConfig `yaml:"simulation"`
	Grid       GridConfig       `yaml:"grid"`
	Material   MaterialConfig   `yaml:"material"`
	Scatter    ScatterConfig    `yaml:"scatter"`
	Collider   ColliderConfig   `yaml:"collider"`
	Loop       LoopConfig       `yaml:"loop"`
	Camera     CameraConfig     `yaml:"camera"`
	Render     RenderConfig     `yaml:"render"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type DeviceConfig struct {
	Backend    string `yaml:"backend"`
	Workers    int    `yaml:"workers"`
	Timestamps bool   `yaml:"timestamps"`
}

type SimulationConfig struct {
	Particles     int        `yaml:"particles"`
	Method        string     `yaml:"method"`
	SnowTimestep  float64    `yaml:"snow_timestep"`
	FluidTimestep float64    `yaml:"fluid_timestep"`
	Gravity       [3]float64 `yaml:"gravity"`
	Seed          int64      `yaml:"seed"`
}

type GridConfig struct {
	Resolution      [3]int     `yaml:"resolution"`
	Min             [3]float64 `yaml:"min"`
	Max             [3]float64 `yaml:"max"`
	FixedPointScale float64    `yaml:"fixed_point_scale"`
	Hash            string     `yaml:"hash"`

	// MaxBlocks overrides the pool capacity; zero sizes it from the
	// particle count and resolution.
	MaxBlocks           int `yaml:"max_blocks"`
	OverflowCheckFrames int `yaml:"overflow_check_frames"`
}

type MaterialConfig struct {
	YoungsModulus       float64 `yaml:"youngs_modulus"`
	PoissonRatio        float64 `yaml:"poisson_ratio"`
	Hardening           float64 `yaml:"hardening"`
	CriticalCompression float64 `yaml:"critical_compression"`
	CriticalStretch     float64 `yaml:"critical_stretch"`
	Density             float64 `yaml:"density"`
	BulkModulus         float64 `yaml:"bulk_modulus"`
}

type ScatterConfig struct {
	// Mesh is "box", "sphere" or a path to a Wavefront OBJ file.
	Mesh            string     `yaml:"mesh"`
	Center          [3]float64 `yaml:"center"`
	Size            [3]float64 `yaml:"size"`
	InitialVelocity [3]float64 `yaml:"initial_velocity"`
	MaxAttempts     int        `yaml:"max_attempts"`
}

type ColliderConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Mesh     string     `yaml:"mesh"`
	Center   [3]float64 `yaml:"center"`
	Size     [3]float64 `yaml:"size"`
	Velocity [3]float64 `yaml:"velocity"`
}

type LoopConfig struct {
	RefreshRate      float64 `yaml:"refresh_rate"`
	DriftThresholdMs float64 `yaml:"drift_threshold_ms"`
	OneStepPerFrame  bool    `yaml:"one_step_per_frame"`
}

type CameraConfig struct {
	Distance float64 `yaml:"distance"`
	Yaw      float64 `yaml:"yaw"`
	Pitch    float64 `yaml:"pitch"`
	FOV      float64 `yaml:"fov"`
}

type RenderConfig struct {
	Method string `yaml:"method"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

type TelemetryConfig struct {
	WindowSize     int    `yaml:"window_size"`
	LogEveryFrames int    `yaml:"log_every_frames"`
	RecordDir      string `yaml:"record_dir"`
}

func DefaultConfig() *Config {
	extent := DefaultResolution * DefaultCellSize
	return &Config{
		Device: DeviceConfig{Backend: "cpu", Timestamps: true},
		Simulation: SimulationConfig{
			Particles:     DefaultParticles,
			Method:        "snow",
			SnowTimestep:  DefaultSnowTimestep,
			FluidTimestep: DefaultFluidTimestep,
			Gravity:       [3]float64{0, DefaultGravity, 0},
			Seed:          1,
		},
		Grid: GridConfig{
			Resolution:          [3]int{DefaultResolution, DefaultResolution, DefaultResolution},
			Max:                 [3]float64{extent, extent, extent},
			FixedPointScale:     DefaultFixedPointScale,
			Hash:                "xxhash",
			OverflowCheckFrames: 30,
		},
		Material: MaterialConfig{
			YoungsModulus:       1.4e4,
			PoissonRatio:        0.2,
			Hardening:           10,
			CriticalCompression: 2.5e-2,
			CriticalStretch:     7.5e-3,
			Density:             1,
			BulkModulus:         4e3,
		},
		Scatter: ScatterConfig{
			Mesh:        "box",
			Center:      [3]float64{extent / 2, extent * 0.6, extent / 2},
			Size:        [3]float64{extent / 3, extent / 3, extent / 3},
			MaxAttempts: 64,
		},
		Collider: ColliderConfig{
			Mesh:   "box",
			Center: [3]float64{extent / 2, extent * 0.15, extent / 2},
			Size:   [3]float64{extent / 4, extent / 8, extent / 4},
		},
		Loop: LoopConfig{
			RefreshRate:      DefaultRefreshRate,
			DriftThresholdMs: DefaultDriftThreshold,
		},
		Camera: CameraConfig{Distance: extent * 2, Yaw: 0.6, Pitch: 0.35, FOV: 45},
		Render: RenderConfig{Method: "points", Width: 80, Height: 24},
		Telemetry: TelemetryConfig{
			WindowSize:     120,
			LogEveryFrames: 120,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy; Config holds only values and arrays.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	s := c.Simulation
	if s.Particles <= 0 {
		return invalid("particles must be positive, got %d", s.Particles)
	}
	if !oneOf(s.Method, Methods) {
		return invalid("method %q not in %v", s.Method, Methods)
	}
	if s.SnowTimestep <= 0 || s.FluidTimestep <= 0 {
		return invalid("timesteps must be positive")
	}

	g := c.Grid
	for axis := 0; axis < 3; axis++ {
		r := g.Resolution[axis]
		if r < 2*BlockEdge {
			return invalid("grid resolution[%d]=%d below %d", axis, r, 2*BlockEdge)
		}
		if (r+BlockEdge-1)/BlockEdge > MaxBlocksPerAxis {
			return invalid("grid resolution[%d]=%d exceeds %d blocks", axis, r, MaxBlocksPerAxis)
		}
		if g.Max[axis] <= g.Min[axis] {
			return invalid("grid max[%d] must exceed min", axis)
		}
	}
	dx := c.CellSize()
	for axis := 1; axis < 3; axis++ {
		other := (g.Max[axis] - g.Min[axis]) / float64(g.Resolution[axis])
		if math.Abs(other-dx) > 1e-4*dx {
			return invalid("grid cells must be cubic: axis 0 cell %.6g, axis %d cell %.6g", dx, axis, other)
		}
	}
	if g.FixedPointScale <= 0 {
		return invalid("fixed point scale must be positive")
	}
	if g.MaxBlocks < 0 {
		return invalid("max blocks must not be negative")
	}
	if !oneOf(g.Hash, HashFunctions) {
		return invalid("hash %q not in %v", g.Hash, HashFunctions)
	}

	if c.Loop.RefreshRate <= 0 {
		return invalid("refresh rate must be positive")
	}
	if c.Loop.DriftThresholdMs <= 0 {
		return invalid("drift threshold must be positive")
	}
	if !oneOf(c.Render.Method, RenderMethods) {
		return invalid("render method %q not in %v", c.Render.Method, RenderMethods)
	}
	if c.Scatter.Mesh == "" {
		return invalid("scatter mesh must be set")
	}
	for axis := 0; axis < 3; axis++ {
		if c.Scatter.Size[axis] <= 0 {
			return invalid("scatter size[%d] must be positive", axis)
		}
	}
	return nil
}

// CellSize is the edge length of one grid cell in world units.
func (c *Config) CellSize() float64 {
	return (c.Grid.Max[0] - c.Grid.Min[0]) / float64(c.Grid.Resolution[0])
}

// BlocksPerAxis is the block count along each axis.
func (c *Config) BlocksPerAxis() [3]int {
	var b [3]int
	for i, r := range c.Grid.Resolution {
		b[i] = (r + BlockEdge - 1) / BlockEdge
	}
	return b
}

// MaxBlocks is the physical pool capacity in blocks. A particle stencil
// touches at most 8 blocks, so more than 8 per particle is never needed.
func (c *Config) MaxBlocks() int {
	if c.Grid.MaxBlocks > 0 {
		return c.Grid.MaxBlocks
	}
	b := c.BlocksPerAxis()
	total := b[0] * b[1] * b[2]
	if perParticle := 8 * c.Simulation.Particles; perParticle < total {
		return perParticle
	}
	return total
}

// HashMapSize is the next power of two at or above twice MaxBlocks.
func (c *Config) HashMapSize() int {
	n := 1
	for n < 2*c.MaxBlocks() {
		n <<= 1
	}
	return n
}

// Timestep returns the timestep in seconds for the configured method.
func (c *Config) Timestep() float64 {
	return c.TimestepFor(c.Simulation.Method)
}

func (c *Config) TimestepFor(method string) float64 {
	if method == "fluid" {
		return c.Simulation.FluidTimestep
	}
	return c.Simulation.SnowTimestep
}
