package mpm

import (
	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/mat"
)

// svd3 factors f = U·diag(s)·Vᵀ with U and V proper rotations. The last
// singular value carries the sign of det(f).
func svd3(f mgl32.Mat3) (u mgl32.Mat3, s mgl32.Vec3, v mgl32.Mat3, ok bool) {
	a := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			a.Set(r, c, float64(f.At(r, c)))
		}
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return mgl32.Ident3(), mgl32.Vec3{1, 1, 1}, mgl32.Ident3(), false
	}
	vals := svd.Values(nil)
	var ud, vd mat.Dense
	svd.UTo(&ud)
	svd.VTo(&vd)

	sig := [3]float64{vals[0], vals[1], vals[2]}
	if mat.Det(&ud) < 0 {
		negateCol(&ud, 2)
		sig[2] = -sig[2]
	}
	if mat.Det(&vd) < 0 {
		negateCol(&vd, 2)
		sig[2] = -sig[2]
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			u[c*3+r] = float32(ud.At(r, c))
			v[c*3+r] = float32(vd.At(r, c))
		}
	}
	return u, mgl32.Vec3{float32(sig[0]), float32(sig[1]), float32(sig[2])}, v, true
}

func negateCol(m *mat.Dense, c int) {
	for r := 0; r < 3; r++ {
		m.Set(r, c, -m.At(r, c))
	}
}

// polar returns the rotation part R of f = R·S.
func polar(f mgl32.Mat3) mgl32.Mat3 {
	u, _, v, ok := svd3(f)
	if !ok {
		return mgl32.Ident3()
	}
	return u.Mul3(v.Transpose())
}
