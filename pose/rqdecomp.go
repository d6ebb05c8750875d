package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type mat3 [3][3]float64

func toMat3(m mat.Matrix) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func (a mat3) mul(b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func (a mat3) t() mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}

func (a mat3) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
}

// givens normalizes (c, s) into a rotation pair.
func givens(c, s float64) (float64, float64) {
	z := 1 / math.Sqrt(c*c+s*s+dblEpsilon)
	return c * z, s * z
}

func signOf(v float64) float64 {
	if v >= 0 {
		return 1
	}
	return -1
}

// RQDecomp3x3 factors m into an upper triangular r and an orthogonal q with
// m = r*q, using three Givens rotations about x, y and z. euler holds the
// three rotation angles in degrees.
//
// The first two diagonal entries of r are kept positive; when they are not,
// r is rotated by 180 degrees and the Givens rotations adjusted to match.
func RQDecomp3x3(m mat.Matrix) (r, q *mat.Dense, euler [3]float64) {
	in := toMat3(m)

	c, s := givens(in[2][2], in[2][1])
	qx := mat3{{1, 0, 0}, {0, c, s}, {0, -s, c}}
	rm := in.mul(qx)
	rm[2][1] = 0

	c, s = givens(rm[2][2], -rm[2][0])
	qy := mat3{{c, 0, -s}, {0, 1, 0}, {s, 0, c}}
	mm := rm.mul(qy)
	mm[2][0] = 0

	c, s = givens(mm[1][1], mm[1][0])
	qz := mat3{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}
	rm = mm.mul(qz)
	rm[1][0] = 0

	switch {
	case rm[0][0] < 0 && rm[1][1] < 0:
		// rotate about z by 180 degrees
		rm[0][0] *= -1
		rm[0][1] *= -1
		rm[1][1] *= -1
		qz[0][0] *= -1
		qz[0][1] *= -1
		qz[1][0] *= -1
		qz[1][1] *= -1
	case rm[0][0] < 0:
		// rotate about y by 180 degrees
		rm[0][0] *= -1
		rm[0][2] *= -1
		rm[1][2] *= -1
		rm[2][2] *= -1
		qz = qz.t()
		qy[0][0] *= -1
		qy[0][2] *= -1
		qy[2][0] *= -1
		qy[2][2] *= -1
	case rm[1][1] < 0:
		// rotate about x by 180 degrees
		rm[0][1] *= -1
		rm[0][2] *= -1
		rm[1][1] *= -1
		rm[1][2] *= -1
		rm[2][2] *= -1
		qz = qz.t()
		qy = qy.t()
		qx[1][1] *= -1
		qx[1][2] *= -1
		qx[2][1] *= -1
		qx[2][2] *= -1
	}

	const toDeg = 180 / math.Pi
	euler[0] = math.Acos(clampUnit(qx[1][1])) * signOf(qx[1][2]) * toDeg
	euler[1] = math.Acos(clampUnit(qy[0][0])) * signOf(qy[2][0]) * toDeg
	euler[2] = math.Acos(clampUnit(qz[0][0])) * signOf(qz[0][1]) * toDeg

	// q = qz^T * qy^T * qx^T
	qm := qz.t().mul(qy.t()).mul(qx.t())
	return rm.dense(), qm.dense(), euler
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
