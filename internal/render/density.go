package render

import "github.com/san-kum/snowmpm/internal/compute"

// densityRamp orders shades from empty to densest.
var densityRamp = []rune(" .:-=+*#%@")

// Shade returns the density of shade r in [0, 1].
func Shade(r rune) (float64, bool) {
	for i, c := range densityRamp {
		if c == r {
			return float64(i) / float64(len(densityRamp)-1), true
		}
	}
	return 0, false
}

// Density shades each cell by the number of particles projected into it,
// normalised by the densest cell of the frame.
type Density struct {
	surface
}

func NewDensity(dev compute.Device, width, height int) *Density {
	d := &Density{}
	d.surface = newSurface(dev, "density", width, height, true, decodeDensity)
	return d
}

func (d *Density) Kind() Kind { return KindDensity }

// AddPrerenderPasses counts particles per cell and finds the maximum.
// The scratch buffer holds the counts followed by the maximum.
func (d *Density) AddPrerenderPasses(enc *compute.CommandEncoder, f Frame, tw *compute.PassTimestampWrites) {
	if !d.ensure() {
		return
	}
	counts, width, cells := d.scratch, d.width, uint32(d.cells())
	enc.ClearBuffer(counts, 0, counts.Size())
	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{Label: "density prerender", TimestampWrites: tw})
	pass.Dispatch("load camera", 1, d.loadCamera(f))
	pass.Dispatch("density splat", f.Count, func(i uint32) {
		x, y, ok := d.project(f, i)
		if !ok {
			return
		}
		cell, _ := dotBit(x, y, width)
		counts.AtomicAdd(uint32(cell), 1)
	})
	pass.Dispatch("density max", cells, func(i uint32) {
		c := counts.Load(i)
		for {
			m := counts.Load(cells)
			if c <= m || counts.CompareAndSwap(cells, m, c) {
				return
			}
		}
	})
	pass.End()
}

func (d *Density) AddDraw(enc *compute.CommandEncoder, _ Frame, tw *compute.PassTimestampWrites) {
	if !d.ready {
		return
	}
	counts, out, cells := d.scratch, d.out, uint32(d.cells())
	levels := uint32(len(densityRamp) - 1)
	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{Label: "density draw", TimestampWrites: tw})
	pass.Dispatch("density shade", cells, func(i uint32) {
		c, m := counts.Load(i), counts.Load(cells)
		var level uint32
		if c > 0 && m > 0 {
			level = (c*levels + m - 1) / m
		}
		out.Store(i, level)
	})
	pass.End()
	d.encodeCopy(enc)
}

func decodeDensity(words []uint32, width, height int) string {
	c := NewCanvas(width, height)
	for i, w := range words {
		c.SetCell(i%width, i/width, densityRamp[min(int(w), len(densityRamp)-1)])
	}
	return c.String()
}
