package pose

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints centres pts on their centroid and scales them to a mean
// distance of sqrt(2), as in Multiple View Geometry, Alg 4.2. It returns the
// transformed points and the 3x3 transform.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	n := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt2 / d
	}
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	return out, T
}

// FindHomography estimates H with dst ~ H*src from at least four
// correspondences using the normalized DLT. H is scaled so that H[2][2] is 1.
func FindHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.New("src and dst must have the same number of points")
	}
	if len(src) < 4 {
		return nil, errors.Errorf("homography needs at least 4 points, got %d", len(src))
	}
	s, T1 := normalizePoints(src)
	d, T2 := normalizePoints(dst)

	a := mat.NewDense(2*len(s), 9, nil)
	for i := range s {
		x, y := s[i].X, s[i].Y
		u, v := d[i].X, d[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y, -v})
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.New("failed to factorize homography system")
	}
	var v mat.Dense
	svd.VTo(&v)
	h := make([]float64, 9)
	for i := range h {
		h[i] = v.At(i, 8)
	}
	hn := mat.NewDense(3, 3, h)

	// H = T2^-1 * Hn * T1
	var t2inv mat.Dense
	if err := t2inv.Inverse(T2); err != nil {
		return nil, errors.Wrap(err, "degenerate destination points")
	}
	var H mat.Dense
	H.Mul(&t2inv, hn)
	H.Mul(&H, T1)

	if h22 := H.At(2, 2); math.Abs(h22) > dblEpsilon {
		H.Scale(1/h22, &H)
	}
	if !finite(H.RawMatrix().Data...) {
		return nil, errors.New("homography is not finite")
	}
	return &H, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
