package sparsegrid

import (
	"math"

	"github.com/san-kum/snowmpm/internal/compute"
)

// EncodeFixed scales v to an int32, saturating at the int32 range. ok is
// false when v did not fit.
func EncodeFixed(v, scale float32) (fixed int32, ok bool) {
	f := math.Round(float64(v) * float64(scale))
	switch {
	case math.IsNaN(f):
		return 0, false
	case f > math.MaxInt32:
		return math.MaxInt32, false
	case f < math.MinInt32:
		return math.MinInt32, false
	}
	return int32(f), true
}

// DecodeFixed is the inverse of EncodeFixed.
func DecodeFixed(fixed int32, scale float32) float32 {
	return float32(float64(fixed) / float64(scale))
}

// AtomicAddFixed adds v in fixed point to word i of buf. It reports false
// when the value could not be encoded or the sum wrapped.
func AtomicAddFixed(buf *compute.Buffer, i uint32, v, scale float32) bool {
	d, ok := EncodeFixed(v, scale)
	if d == 0 {
		return ok
	}
	next := buf.AtomicAdd(i, d)
	prev := next - d
	if (d > 0 && next < prev) || (d < 0 && next > prev) {
		return false
	}
	return ok
}

// AddFixed accumulates v into pool word i, counting overflows in the
// control block.
func (g *Grid) AddFixed(i uint32, v, scale float32) {
	if !AtomicAddFixed(g.pool, i, v, scale) {
		g.control.AtomicAdd(CtrlFixedOverflows, 1)
	}
}
