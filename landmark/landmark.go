// Package landmark holds the face-mesh landmark types consumed by the pose
// estimator and the framing gate.
package landmark

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Face mesh indices, MediaPipe convention.
const (
	NoseTip       = 1
	Forehead      = 10
	LeftEyeOuter  = 33
	MouthLeft     = 61
	Chin          = 199
	LowerChin     = 200
	LeftCheek     = 234
	RightEyeOuter = 263
	MouthRight    = 291
	RightCheek    = 454
	MeshSize      = 468
)

// PoseIndices are the PnP correspondences: eye corners, nose tip, mouth
// corners and chin.
var PoseIndices = [...]int{LeftEyeOuter, RightEyeOuter, NoseTip, MouthLeft, MouthRight, Chin}

// PoseCount is the number of correspondences fed to the solver.
const PoseCount = len(PoseIndices)

// maxPoseIndex is the highest index SelectPose needs to address.
const maxPoseIndex = MouthRight

// ErrMalformedLandmarks is returned when a landmark sequence is too short to
// address the required indices.
var ErrMalformedLandmarks = errors.New("landmark sequence too short")

// Landmark is a normalized point from the detector. X and Y are fractions of
// the image width and height, Z is the detector's relative depth.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pixel scales the landmark into image space.
func (l Landmark) Pixel(imageWidth, imageHeight int) r2.Point {
	return r2.Point{X: l.X * float64(imageWidth), Y: l.Y * float64(imageHeight)}
}

// Model returns the pseudo 3D point used as the PnP model point: the pixel
// position with the raw, unscaled depth.
func (l Landmark) Model(imageWidth, imageHeight int) r3.Vector {
	p := l.Pixel(imageWidth, imageHeight)
	return r3.Vector{X: p.X, Y: p.Y, Z: l.Z}
}

func isPoseIndex(idx int) bool {
	for _, p := range PoseIndices {
		if p == idx {
			return true
		}
	}
	return false
}

// SelectPose appends the pose landmarks of lms to dst in sequence order, not
// in PoseIndices order. The solver sees points in this order.
func SelectPose(dst, lms []Landmark) ([]Landmark, error) {
	if len(lms) <= maxPoseIndex {
		return dst, errors.Wrapf(ErrMalformedLandmarks, "need %d landmarks, got %d", maxPoseIndex+1, len(lms))
	}
	for idx, lm := range lms {
		if isPoseIndex(idx) {
			dst = append(dst, lm)
		}
	}
	return dst, nil
}
