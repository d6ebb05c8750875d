package pose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Intrinsics is a pinhole camera without skew.
type Intrinsics struct {
	Fx  float64 `json:"fx"`
	Fy  float64 `json:"fy"`
	Ppx float64 `json:"ppx"`
	Ppy float64 `json:"ppy"`
}

// NewCameraIntrinsics builds the camera used for head pose: focal length
// equal to the image width and the principal point at (h/2, w/2).
//
// NOTE: the principal point axes are swapped relative to the usual
// (w/2, h/2). The angle thresholds of the challenge were tuned against this
// layout, so it stays.
func NewCameraIntrinsics(imageWidth, imageHeight int) Intrinsics {
	f := float64(imageWidth)
	return Intrinsics{
		Fx:  f,
		Fy:  f,
		Ppx: float64(imageHeight) / 2,
		Ppy: float64(imageWidth) / 2,
	}
}

// Matrix returns the 3x3 camera matrix.
func (in Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		in.Fx, 0, in.Ppx,
		0, in.Fy, in.Ppy,
		0, 0, 1,
	})
}

// Distortion holds the k1, k2, p1, p2 Brown-Conrady coefficients.
type Distortion struct {
	K1, K2, P1, P2 float64
}

func (d Distortion) isZero() bool {
	return d == Distortion{}
}

// distort maps ideal normalized coordinates to distorted ones.
func (d Distortion) distort(x, y float64) (float64, float64) {
	rr := x*x + y*y
	radial := 1 + d.K1*rr + d.K2*rr*rr
	xd := x*radial + 2*d.P1*x*y + d.P2*(rr+2*x*x)
	yd := y*radial + d.P1*(rr+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// normalize maps a pixel to ideal normalized coordinates, undoing the
// distortion with a fixed number of fixed-point iterations.
func (in Intrinsics) normalize(p r2.Point, d Distortion) r2.Point {
	x := (p.X - in.Ppx) / in.Fx
	y := (p.Y - in.Ppy) / in.Fy
	if d.isZero() {
		return r2.Point{X: x, Y: y}
	}
	x0, y0 := x, y
	for i := 0; i < 5; i++ {
		rr := x*x + y*y
		icdist := 1 / (1 + d.K1*rr + d.K2*rr*rr)
		dx := 2*d.P1*x*y + d.P2*(rr+2*x*x)
		dy := d.P1*(rr+2*y*y) + 2*d.P2*x*y
		x = (x0 - dx) * icdist
		y = (y0 - dy) * icdist
	}
	return r2.Point{X: x, Y: y}
}

// project maps a camera-frame point to a pixel. A point on the camera plane
// is projected as if its depth were 1.
func (in Intrinsics) project(p r3.Vector, d Distortion) r2.Point {
	z := 1.0
	if p.Z != 0 {
		z = 1 / p.Z
	}
	x, y := p.X*z, p.Y*z
	if !d.isZero() {
		x, y = d.distort(x, y)
	}
	return r2.Point{X: in.Fx*x + in.Ppx, Y: in.Fy*y + in.Ppy}
}

// ProjectPoints applies the rigid transform (rvec, tvec) and the camera model
// to every object point, appending the pixels to dst.
func ProjectPoints(dst []r2.Point, object []r3.Vector, rvec, tvec r3.Vector, cam Intrinsics, dist Distortion) []r2.Point {
	rot := RodriguesToMatrix(rvec)
	for _, m := range object {
		dst = append(dst, cam.project(transform(rot, tvec, m), dist))
	}
	return dst
}

// transform returns R*m + t.
func transform(rot *mat.Dense, t, m r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*m.X + rot.At(0, 1)*m.Y + rot.At(0, 2)*m.Z + t.X,
		Y: rot.At(1, 0)*m.X + rot.At(1, 1)*m.Y + rot.At(1, 2)*m.Z + t.Y,
		Z: rot.At(2, 0)*m.X + rot.At(2, 1)*m.Y + rot.At(2, 2)*m.Z + t.Z,
	}
}
