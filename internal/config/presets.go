package config

import "sort"

// Presets are named starting points; GetPreset returns a fresh copy built
// over DefaultConfig.
var Presets = map[string]func(*Config){
	// The reference scenario: half a million particles on a 192³ grid.
	"snow": func(c *Config) {
		c.Simulation.Particles = 500000
		c.Simulation.Method = "snow"
		c.Simulation.SnowTimestep = 1.0 / 144.0
		setCubeGrid(c, 192, DefaultCellSize)
		extent := 192 * DefaultCellSize
		c.Scatter.Mesh = "sphere"
		c.Scatter.Center = [3]float64{extent / 2, extent * 0.65, extent / 2}
		c.Scatter.Size = [3]float64{extent / 5, extent / 5, extent / 5}
		c.Collider.Enabled = true
		c.Collider.Center = [3]float64{extent / 2, extent * 0.2, extent / 2}
		c.Collider.Size = [3]float64{extent / 3, extent / 10, extent / 3}
		c.Camera.Distance = extent * 2
	},
	"small": func(c *Config) {
		c.Simulation.Particles = 4000
		setCubeGrid(c, 32, DefaultCellSize)
		extent := 32 * DefaultCellSize
		c.Scatter.Center = [3]float64{extent / 2, extent * 0.6, extent / 2}
		c.Scatter.Size = [3]float64{extent / 3, extent / 3, extent / 3}
		c.Collider.Center = [3]float64{extent / 2, extent * 0.15, extent / 2}
		c.Collider.Size = [3]float64{extent / 4, extent / 8, extent / 4}
		c.Camera.Distance = extent * 2
	},
	"fluid": func(c *Config) {
		c.Simulation.Method = "fluid"
		c.Simulation.Particles = 30000
		c.Scatter.InitialVelocity = [3]float64{1.5, 0, 0}
	},
	"avalanche": func(c *Config) {
		c.Simulation.Particles = 60000
		c.Material.Hardening = 5
		c.Collider.Enabled = true
		c.Collider.Velocity = [3]float64{0, 0, 0.5}
	},
	"stress": func(c *Config) {
		// Deliberately undersized pool to exercise overflow reporting.
		c.Simulation.Particles = 20000
		c.Grid.MaxBlocks = 64
	},
}

func setCubeGrid(c *Config, res int, cell float64) {
	c.Grid.Resolution = [3]int{res, res, res}
	c.Grid.Min = [3]float64{}
	extent := float64(res) * cell
	c.Grid.Max = [3]float64{extent, extent, extent}
}

// GetPreset returns the named preset applied to DefaultConfig, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

// ListPresets returns preset names in sorted order.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
