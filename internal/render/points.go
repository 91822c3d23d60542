package render

import "github.com/san-kum/snowmpm/internal/compute"

// Points draws every particle as one braille dot.
type Points struct {
	surface
}

func NewPoints(dev compute.Device, width, height int) *Points {
	p := &Points{}
	p.surface = newSurface(dev, "points", width, height, false, decodeBraille)
	return p
}

func (p *Points) Kind() Kind { return KindPoints }

func (p *Points) AddPrerenderPasses(enc *compute.CommandEncoder, f Frame, tw *compute.PassTimestampWrites) {
	if !p.ensure() {
		return
	}
	enc.ClearBuffer(p.out, 0, p.out.Size())
	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{Label: "points prerender", TimestampWrites: tw})
	pass.Dispatch("load camera", 1, p.loadCamera(f))
	pass.End()
}

func (p *Points) AddDraw(enc *compute.CommandEncoder, f Frame, tw *compute.PassTimestampWrites) {
	if !p.ready {
		return
	}
	out, width := p.out, p.width
	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{Label: "points draw", TimestampWrites: tw})
	pass.Dispatch("splat points", f.Count, func(i uint32) {
		x, y, ok := p.project(f, i)
		if !ok {
			return
		}
		cell, bit := dotBit(x, y, width)
		out.AtomicOr(uint32(cell), bit)
	})
	pass.End()
	p.encodeCopy(enc)
}

func decodeBraille(words []uint32, width, height int) string {
	c := NewCanvas(width, height)
	for i, w := range words {
		if w != 0 {
			c.SetCell(i%width, i/width, rune(brailleBase+w))
		}
	}
	return c.String()
}
