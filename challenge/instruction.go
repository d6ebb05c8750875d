package challenge

import (
	"fmt"
	"strings"
)

// Messages shown to the user.
const (
	MsgWaiting      = "waiting for camera"
	MsgLookStraight = "look straight"
	MsgLookRight    = "look right"
	MsgLookLeft     = "look left"
	MsgLookUp       = "look up"
	MsgLookDown     = "look down"
	MsgNoFace       = "no face"
	MsgFaceDetected = "face detected"
	MsgComplete     = "challenge complete"
	MsgHoldStill    = "hold still, face not tracked"
)

// Instruction returns the prompt for the pose the user should present next.
func Instruction(p Pose) string {
	switch p {
	case PoseFront:
		return MsgLookStraight
	case PoseRight:
		return MsgLookRight
	case PoseLeft:
		return MsgLookLeft
	case PoseUp:
		return MsgLookUp
	case PoseDown:
		return MsgLookDown
	default:
		return MsgComplete
	}
}

// NoFacePolicy says what happens to the flags when a frame has no usable
// face.
type NoFacePolicy int

const (
	ResetFlags NoFacePolicy = iota
	KeepFlags
)

func (p NoFacePolicy) String() string {
	if p == KeepFlags {
		return "keep"
	}
	return "reset"
}

// ParseNoFacePolicy accepts "reset", "keep" or the empty string (reset).
func ParseNoFacePolicy(s string) (NoFacePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reset":
		return ResetFlags, nil
	case "keep":
		return KeepFlags, nil
	default:
		return ResetFlags, fmt.Errorf("unknown no-face policy %q", s)
	}
}
