package pose

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const dblEpsilon = 2.220446049250313e-16

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// RodriguesToMatrix converts a rotation vector (axis times angle) into a
// rotation matrix.
func RodriguesToMatrix(r r3.Vector) *mat.Dense {
	theta := r.Norm()
	if theta < dblEpsilon {
		return eye3()
	}
	k := r.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	c1 := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + c1*k.X*k.X, c1*k.X*k.Y - s*k.Z, c1*k.X*k.Z + s*k.Y,
		c1*k.X*k.Y + s*k.Z, c + c1*k.Y*k.Y, c1*k.Y*k.Z - s*k.X,
		c1*k.X*k.Z - s*k.Y, c1*k.Y*k.Z + s*k.X, c + c1*k.Z*k.Z,
	})
}

// MatrixToRodrigues converts a 3x3 matrix into a rotation vector. The input
// is first projected onto the closest rotation (R = U*Vt), so a scaled or
// slightly skewed matrix is accepted.
func MatrixToRodrigues(m mat.Matrix) r3.Vector {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return r3.Vector{}
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())

	rx := rot.At(2, 1) - rot.At(1, 2)
	ry := rot.At(0, 2) - rot.At(2, 0)
	rz := rot.At(1, 0) - rot.At(0, 1)

	s := math.Sqrt((rx*rx + ry*ry + rz*rz) * 0.25)
	c := (rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2) - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s >= 1e-5 {
		vth := theta / (2 * s)
		return r3.Vector{X: rx * vth, Y: ry * vth, Z: rz * vth}
	}
	if c > 0 {
		return r3.Vector{}
	}

	// theta close to pi: recover the axis from the diagonal.
	t := (rot.At(0, 0) + 1) * 0.5
	rx = math.Sqrt(math.Max(t, 0))
	t = (rot.At(1, 1) + 1) * 0.5
	ry = math.Sqrt(math.Max(t, 0))
	if rot.At(0, 1) < 0 {
		ry = -ry
	}
	t = (rot.At(2, 2) + 1) * 0.5
	rz = math.Sqrt(math.Max(t, 0))
	if rot.At(0, 2) < 0 {
		rz = -rz
	}
	if math.Abs(rx) < math.Abs(ry) && math.Abs(rx) < math.Abs(rz) && (rot.At(1, 2) > 0) != (ry*rz > 0) {
		rz = -rz
	}
	axis := r3.Vector{X: rx, Y: ry, Z: rz}
	return axis.Mul(theta / axis.Norm())
}
