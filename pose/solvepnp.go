package pose

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSolveFailed is returned when the correspondences are degenerate or the
// solver produces a non-finite pose.
var ErrSolveFailed = errors.New("solvePnP failed")

const (
	// planarity threshold on the ratio of the two smallest singular values
	// of the object point scatter.
	planarRatio = 1e-3
	// below this ratio of the two largest singular values the object points
	// are taken as collinear.
	collinearRatio = 1e-12

	lmMaxIter = 20
	lmEpsilon = 1.1920928955078125e-07 // FLT_EPSILON
)

// SolvePnP finds the rotation vector and translation that map the object
// points into the camera frame so that they project onto the image points.
//
// The initial guess comes from a homography when the object points are
// planar and from a DLT otherwise; it is then refined with
// Levenberg-Marquardt on the pixel reprojection error.
func SolvePnP(object []r3.Vector, image []r2.Point, cam Intrinsics, dist Distortion) (rvec, tvec r3.Vector, err error) {
	if len(object) != len(image) {
		return rvec, tvec, errors.Wrapf(ErrSolveFailed, "%d object points but %d image points", len(object), len(image))
	}
	if len(object) < 4 {
		return rvec, tvec, errors.Wrapf(ErrSolveFailed, "need at least 4 points, got %d", len(object))
	}
	if cam.Fx == 0 || cam.Fy == 0 {
		return rvec, tvec, errors.Wrap(ErrSolveFailed, "zero focal length")
	}

	normalized := make([]r2.Point, len(image))
	for i, p := range image {
		normalized[i] = cam.normalize(p, dist)
	}

	rvec, tvec, err = initialPose(object, normalized)
	if err != nil {
		return rvec, tvec, err
	}
	rvec, tvec = refinePose(object, image, rvec, tvec, cam, dist)
	if !finite(rvec.X, rvec.Y, rvec.Z, tvec.X, tvec.Y, tvec.Z) {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrSolveFailed, "pose is not finite")
	}
	return rvec, tvec, nil
}

func initialPose(object []r3.Vector, normalized []r2.Point) (r3.Vector, r3.Vector, error) {
	n := float64(len(object))
	mc := r3.Vector{}
	for _, m := range object {
		mc = mc.Add(m)
	}
	mc = mc.Mul(1 / n)

	scatter := mat.NewDense(3, 3, nil)
	for _, m := range object {
		d := m.Sub(mc)
		v := []float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				scatter.Set(i, j, scatter.At(i, j)+v[i]*v[j])
			}
		}
	}
	var svd mat.SVD
	if !svd.Factorize(scatter, mat.SVDFull) {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrSolveFailed, "failed to factorize object scatter")
	}
	w := svd.Values(nil)
	if w[0] <= 0 || w[1] <= w[0]*collinearRatio {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrSolveFailed, "object points are collinear")
	}
	if w[2]/w[1] < planarRatio {
		var v mat.Dense
		svd.VTo(&v)
		return planarPose(object, normalized, mc, &v)
	}
	return dltPose(object, normalized)
}

// planarPose rotates the object plane onto z=0, fits a homography to the
// normalized image points and decomposes it.
func planarPose(object []r3.Vector, normalized []r2.Point, mc r3.Vector, v *mat.Dense) (r3.Vector, r3.Vector, error) {
	// rows of rt are the principal directions of the scatter
	rt := mat.DenseCopyOf(v.T())
	if rt.At(0, 2)*rt.At(0, 2)+rt.At(1, 2)*rt.At(1, 2) < 1e-10 {
		rt = eye3()
	}
	if mat.Det(rt) < 0 {
		rt.Scale(-1, rt)
	}
	tt := transform(rt, r3.Vector{}, mc).Mul(-1)

	plane := make([]r2.Point, len(object))
	for i, m := range object {
		p := transform(rt, tt, m)
		plane[i] = r2.Point{X: p.X, Y: p.Y}
	}
	H, err := FindHomography(plane, normalized)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrSolveFailed, err.Error())
	}

	h1 := r3.Vector{X: H.At(0, 0), Y: H.At(1, 0), Z: H.At(2, 0)}
	h2 := r3.Vector{X: H.At(0, 1), Y: H.At(1, 1), Z: H.At(2, 1)}
	t := r3.Vector{X: H.At(0, 2), Y: H.At(1, 2), Z: H.At(2, 2)}
	h1n, h2n := h1.Norm(), h2.Norm()
	h1 = h1.Mul(1 / math.Max(h1n, dblEpsilon))
	h2 = h2.Mul(1 / math.Max(h2n, dblEpsilon))
	t = t.Mul(2 / math.Max(h1n+h2n, dblEpsilon))
	h3 := h1.Cross(h2)

	approx := mat.NewDense(3, 3, []float64{
		h1.X, h2.X, h3.X,
		h1.Y, h2.Y, h3.Y,
		h1.Z, h2.Z, h3.Z,
	})
	rot := RodriguesToMatrix(MatrixToRodrigues(approx))

	t = transform(rot, t, tt)
	var full mat.Dense
	full.Mul(rot, rt)
	return MatrixToRodrigues(&full), t, nil
}

// dltPose solves the 3x4 projection matrix [R|t] linearly and projects its
// left block onto the rotations.
func dltPose(object []r3.Vector, normalized []r2.Point) (r3.Vector, r3.Vector, error) {
	l := mat.NewDense(2*len(object), 12, nil)
	for i, m := range object {
		x, y := -normalized[i].X, -normalized[i].Y
		l.SetRow(2*i, []float64{m.X, m.Y, m.Z, 1, 0, 0, 0, 0, x * m.X, x * m.Y, x * m.Z, x})
		l.SetRow(2*i+1, []float64{0, 0, 0, 0, m.X, m.Y, m.Z, 1, y * m.X, y * m.Y, y * m.Z, y})
	}
	var ll mat.Dense
	ll.Mul(l.T(), l)

	var svd mat.SVD
	if !svd.Factorize(&ll, mat.SVDFull) {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrSolveFailed, "failed to factorize DLT system")
	}
	var v mat.Dense
	svd.VTo(&v)
	rrt := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			rrt.Set(i, j, v.At(i*4+j, 11))
		}
	}
	rr := mat.DenseCopyOf(rrt.Slice(0, 3, 0, 3))
	if mat.Det(rr) < 0 {
		rrt.Scale(-1, rrt)
		rr.Scale(-1, rr)
	}
	sc := mat.Norm(rr, 2)
	if sc == 0 {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrSolveFailed, "degenerate DLT solution")
	}

	var rs mat.SVD
	if !rs.Factorize(rr, mat.SVDFull) {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrSolveFailed, "failed to orthogonalize rotation")
	}
	var u, vv, rot mat.Dense
	rs.UTo(&u)
	rs.VTo(&vv)
	rot.Mul(&u, vv.T())

	k := mat.Norm(&rot, 2) / sc
	t := r3.Vector{X: rrt.At(0, 3) * k, Y: rrt.At(1, 3) * k, Z: rrt.At(2, 3) * k}
	return MatrixToRodrigues(&rot), t, nil
}

// refinePose runs Levenberg-Marquardt over (rvec, tvec) on the pixel
// reprojection error. The Jacobian is taken by central differences.
func refinePose(object []r3.Vector, image []r2.Point, rvec, tvec r3.Vector, cam Intrinsics, dist Distortion) (r3.Vector, r3.Vector) {
	nres := 2 * len(object)
	params := []float64{rvec.X, rvec.Y, rvec.Z, tvec.X, tvec.Y, tvec.Z}
	proj := make([]r2.Point, 0, len(object))

	residual := func(p []float64, out []float64) float64 {
		proj = ProjectPoints(proj[:0], object, r3.Vector{X: p[0], Y: p[1], Z: p[2]}, r3.Vector{X: p[3], Y: p[4], Z: p[5]}, cam, dist)
		sum := 0.0
		for i, q := range proj {
			out[2*i] = q.X - image[i].X
			out[2*i+1] = q.Y - image[i].Y
			sum += out[2*i]*out[2*i] + out[2*i+1]*out[2*i+1]
		}
		return sum
	}

	errVec := make([]float64, nres)
	plus := make([]float64, nres)
	minus := make([]float64, nres)
	cand := make([]float64, 6)
	candErr := make([]float64, nres)
	jac := mat.NewDense(nres, 6, nil)

	cost := residual(params, errVec)
	lambda := 1e-3
	for iter := 0; iter < lmMaxIter && cost > 0; iter++ {
		for j := 0; j < 6; j++ {
			h := 1e-6 * math.Max(1, math.Abs(params[j]))
			copy(cand, params)
			cand[j] = params[j] + h
			residual(cand, plus)
			cand[j] = params[j] - h
			residual(cand, minus)
			for i := 0; i < nres; i++ {
				jac.Set(i, j, (plus[i]-minus[i])/(2*h))
			}
		}
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		jte := mat.NewVecDense(6, nil)
		jte.MulVec(jac.T(), mat.NewVecDense(nres, errVec))

		accepted := false
		var step mat.VecDense
		for lambda <= 1e16 {
			a := mat.DenseCopyOf(&jtj)
			for i := 0; i < 6; i++ {
				a.Set(i, i, a.At(i, i)*(1+lambda))
			}
			if err := step.SolveVec(a, jte); err != nil {
				lambda *= 10
				continue
			}
			for i := range cand {
				cand[i] = params[i] - step.AtVec(i)
			}
			if c := residual(cand, candErr); c <= cost {
				copy(params, cand)
				copy(errVec, candErr)
				cost = c
				lambda = math.Max(lambda/10, 1e-16)
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			break
		}
		if mat.Norm(&step, 2) <= lmEpsilon*math.Max(vecNorm(params), dblEpsilon) {
			break
		}
	}
	return r3.Vector{X: params[0], Y: params[1], Z: params[2]}, r3.Vector{X: params[3], Y: params[4], Z: params[5]}
}

func vecNorm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
