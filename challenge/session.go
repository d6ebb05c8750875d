package challenge

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"FacePoseServer/landmark"
	"FacePoseServer/logger"
	"FacePoseServer/pose"
)

// Frame is one detector result shipped by the client.
//
// ViewWidth/ViewHeight enable the framing gate; Box is the target rectangle
// in view coordinates and defaults to the oval overlay for that view.
type Frame struct {
	Landmarks   []landmark.Landmark `json:"landmarks,omitempty"`
	NoFace      bool                `json:"noFace,omitempty"`
	ImageWidth  int                 `json:"imageWidth"`
	ImageHeight int                 `json:"imageHeight"`
	ViewWidth   int                 `json:"viewWidth,omitempty"`
	ViewHeight  int                 `json:"viewHeight,omitempty"`
	Box         *landmark.Rect      `json:"box,omitempty"`
	// Image is an optional base64 JPEG/PNG of the frame, used for debug
	// snapshots only.
	Image     string `json:"image,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Feedback is the reply to one processed frame.
type Feedback struct {
	Instruction string  `json:"instruction"`
	Yaw         float64 `json:"yaw"`
	Pitch       float64 `json:"pitch"`
	Flags       Flags   `json:"flags"`
	Done        bool    `json:"done"`
	// Completed is set on the single frame that finished the challenge.
	Completed  bool   `json:"completed,omitempty"`
	Registered string `json:"registered,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

// Status is a point-in-time view of a session.
type Status struct {
	Flags               Flags   `json:"flags"`
	Done                bool    `json:"done"`
	Expected            string  `json:"expected"`
	Instruction         string  `json:"instruction"`
	Yaw                 float64 `json:"yaw"`
	Pitch               float64 `json:"pitch"`
	Frames              int     `json:"frames"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	NoFacePolicy        string  `json:"noFacePolicy"`
}

// Options configures a Session.
type Options struct {
	NoFacePolicy NoFacePolicy
	// FailureHintAfter consecutive skipped frames add a hint to the
	// feedback. Zero disables the hint.
	FailureHintAfter int
}

type estimator interface {
	Estimate(lms []landmark.Landmark, imageWidth, imageHeight int) (pose.Result, error)
	Reset()
}

// Session runs one challenge: framing gate, pose estimate and state machine
// update for every frame, one frame at a time.
type Session struct {
	mu sync.Mutex

	opts      Options
	estimator estimator
	machine   *StateMachine

	yaw, pitch  float64
	frames      int
	failures    int
	completed   bool
	instruction string
}

// NewSession returns a session with cleared flags and a fresh estimator.
func NewSession(opts Options) *Session {
	return &Session{
		opts:        opts,
		estimator:   pose.NewEstimator(),
		machine:     NewStateMachine(),
		instruction: MsgWaiting,
	}
}

// Process evaluates one frame. Per-frame numeric failures are absorbed into
// the feedback; the only error is a frame without usable image dimensions.
func (s *Session) Process(f Frame) (Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	if f.NoFace || len(f.Landmarks) == 0 {
		return s.noFace(), nil
	}
	if f.ImageWidth <= 0 || f.ImageHeight <= 0 {
		return s.feedback(), errors.Wrapf(pose.ErrInvalidImageSize, "%dx%d", f.ImageWidth, f.ImageHeight)
	}
	if f.ViewWidth > 0 && f.ViewHeight > 0 {
		// the gate reads the face outline, which needs the full mesh
		if len(f.Landmarks) <= landmark.RightCheek {
			return s.skip(errors.Wrapf(landmark.ErrMalformedLandmarks, "%d landmarks, framing needs %d", len(f.Landmarks), landmark.RightCheek+1)), nil
		}
		box := landmark.OvalRect(f.ViewWidth, f.ViewHeight)
		if f.Box != nil {
			box = *f.Box
		}
		if !landmark.IsInsideTheBox(f.Landmarks, f.ImageWidth, f.ImageHeight, box, f.ViewWidth, f.ViewHeight) {
			return s.noFace(), nil
		}
	}

	// the prompt reflects the flags as they were when the frame arrived
	s.instruction = Instruction(s.machine.Expected())

	res, err := s.estimator.Estimate(f.Landmarks, f.ImageWidth, f.ImageHeight)
	if err != nil {
		return s.skip(err), nil
	}
	s.failures = 0
	s.yaw, s.pitch = res.Yaw, res.Pitch

	registered := s.machine.Update(res.Yaw, res.Pitch)
	fb := s.feedback()
	if registered != PoseNone {
		fb.Registered = registered.String()
	}
	if s.machine.Done() && !s.completed {
		s.completed = true
		s.instruction = MsgComplete
		fb.Instruction = MsgComplete
		fb.Completed = true
	}
	return fb, nil
}

// skip leaves flags and the last pose untouched. Malformed input is a
// caller bug: DPanic panics under the development logger.
func (s *Session) skip(err error) Feedback {
	if errors.Is(err, landmark.ErrMalformedLandmarks) {
		logger.Log().DPanic("malformed landmarks", zap.Error(err))
	} else {
		logger.Log().Debug("pose estimate skipped", zap.Error(err))
	}
	s.failures++
	fb := s.feedback()
	fb.Skipped = true
	fb.Hint = MsgFaceDetected
	if s.opts.FailureHintAfter > 0 && s.failures >= s.opts.FailureHintAfter {
		fb.Hint = MsgHoldStill
	}
	return fb
}

func (s *Session) noFace() Feedback {
	s.instruction = MsgNoFace
	if s.opts.NoFacePolicy == ResetFlags {
		s.reset()
	}
	return s.feedback()
}

func (s *Session) feedback() Feedback {
	return Feedback{
		Instruction: s.instruction,
		Yaw:         s.yaw,
		Pitch:       s.pitch,
		Flags:       s.machine.Flags(),
		Done:        s.machine.Done(),
	}
}

func (s *Session) reset() {
	s.machine.Reset()
	s.completed = false
}

// Reset clears the challenge and the last pose.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.estimator.Reset()
	s.yaw, s.pitch = 0, 0
	s.failures = 0
	s.instruction = MsgWaiting
}

// Snapshot returns the current status without processing a frame.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Flags:               s.machine.Flags(),
		Done:                s.machine.Done(),
		Expected:            s.machine.Expected().String(),
		Instruction:         s.instruction,
		Yaw:                 s.yaw,
		Pitch:               s.pitch,
		Frames:              s.frames,
		ConsecutiveFailures: s.failures,
		NoFacePolicy:        s.opts.NoFacePolicy.String(),
	}
}

// Options returns the options the session was created with.
func (s *Session) Options() Options {
	return s.opts
}
