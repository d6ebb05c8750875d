// Package pose recovers head orientation from face-mesh landmarks with an
// iterative PnP solve followed by an RQ decomposition of the rotation.
package pose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"FacePoseServer/landmark"
)

// AngleScale multiplies the RQ Euler angles (already in degrees) to give the
// pitch and yaw the challenge thresholds are tuned against.
//
// NOTE: this is not a unit conversion. The thresholds downstream were
// calibrated with it, so changing it changes the challenge.
const AngleScale = 360

// ErrInvalidImageSize is returned for non-positive image dimensions.
var ErrInvalidImageSize = errors.New("image dimensions must be positive")

// Result is one head pose estimate.
type Result struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`

	Rotation    r3.Vector `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// Estimator turns landmark sets into pose results. It reuses scratch buffers
// between calls and is not safe for concurrent use; keep one per session.
type Estimator struct {
	selected []landmark.Landmark
	object   []r3.Vector
	image    []r2.Point

	last Result
	ok   bool
}

// NewEstimator returns an Estimator with preallocated scratch space.
func NewEstimator() *Estimator {
	return &Estimator{
		selected: make([]landmark.Landmark, 0, landmark.PoseCount),
		object:   make([]r3.Vector, 0, landmark.PoseCount),
		image:    make([]r2.Point, 0, landmark.PoseCount),
	}
}

// Estimate solves the head pose for one frame.
//
// The model points are the selected landmarks themselves, lifted to
// (px, py, z) with the raw detector depth, and the camera comes from
// NewCameraIntrinsics. Errors wrap landmark.ErrMalformedLandmarks,
// ErrInvalidImageSize or ErrSolveFailed; on error the previous result is
// left in place and still returned by Last.
func (e *Estimator) Estimate(lms []landmark.Landmark, imageWidth, imageHeight int) (Result, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return Result{}, errors.Wrapf(ErrInvalidImageSize, "%dx%d", imageWidth, imageHeight)
	}
	var err error
	e.selected, err = landmark.SelectPose(e.selected[:0], lms)
	if err != nil {
		return Result{}, err
	}

	e.object = e.object[:0]
	e.image = e.image[:0]
	for _, lm := range e.selected {
		e.object = append(e.object, lm.Model(imageWidth, imageHeight))
		e.image = append(e.image, lm.Pixel(imageWidth, imageHeight))
	}

	cam := NewCameraIntrinsics(imageWidth, imageHeight)
	rvec, tvec, err := SolvePnP(e.object, e.image, cam, Distortion{})
	if err != nil {
		return Result{}, err
	}

	_, _, euler := RQDecomp3x3(RodriguesToMatrix(rvec))
	res := Result{
		Pitch:       euler[0] * AngleScale,
		Yaw:         euler[1] * AngleScale,
		Roll:        euler[2] * AngleScale,
		Rotation:    rvec,
		Translation: tvec,
	}
	if !finite(res.Pitch, res.Yaw, res.Roll) {
		return Result{}, errors.Wrap(ErrSolveFailed, "euler angles are not finite")
	}
	e.last, e.ok = res, true
	return res, nil
}

// Last returns the most recent successful estimate.
func (e *Estimator) Last() (Result, bool) {
	return e.last, e.ok
}

// Reset forgets the last estimate.
func (e *Estimator) Reset() {
	e.last, e.ok = Result{}, false
}
