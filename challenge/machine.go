// Package challenge drives the ordered head pose liveness challenge:
// front, right, left, up, down.
package challenge

// Pose thresholds in the scaled degrees produced by pose.Estimator.
const (
	TurnYaw     = 15.0  // |yaw| past this registers right or left
	UpPitch     = 15.0  // pitch above this registers up
	DownPitch   = -10.0 // pitch below this registers down
	FrontWindow = 8.0   // yaw and pitch within +-FrontWindow register front
)

// Pose is one step of the challenge.
type Pose int

const (
	PoseNone Pose = iota
	PoseFront
	PoseRight
	PoseLeft
	PoseUp
	PoseDown
)

func (p Pose) String() string {
	switch p {
	case PoseFront:
		return "front"
	case PoseRight:
		return "right"
	case PoseLeft:
		return "left"
	case PoseUp:
		return "up"
	case PoseDown:
		return "down"
	default:
		return "none"
	}
}

// Flags records which poses have been registered. A flag only goes back to
// false through StateMachine.Reset.
type Flags struct {
	Front bool `json:"front"`
	Right bool `json:"right"`
	Left  bool `json:"left"`
	Up    bool `json:"up"`
	Down  bool `json:"down"`
}

// All reports whether every pose has been registered.
func (f Flags) All() bool {
	return f.Front && f.Right && f.Left && f.Up && f.Down
}

// StateMachine holds the flags of one challenge. It is not safe for
// concurrent use; Session serializes access.
type StateMachine struct {
	flags Flags
	done  bool
}

// NewStateMachine returns a machine with every flag cleared.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Update evaluates one (yaw, pitch) sample and returns the pose it
// registered, or PoseNone. At most one flag changes per call; the first
// matching rule wins.
func (m *StateMachine) Update(yaw, pitch float64) Pose {
	f := &m.flags
	registered := PoseNone
	if yaw < -TurnYaw && f.Right && !f.Left {
		f.Left = true
		registered = PoseLeft
	} else if pitch > UpPitch && f.Left && !f.Up {
		f.Up = true
		registered = PoseUp
	} else if pitch < DownPitch && f.Up && !f.Down {
		f.Down = true
		registered = PoseDown
	} else if yaw > TurnYaw && f.Front && !f.Right {
		f.Right = true
		registered = PoseRight
	} else if inWindow(yaw) && inWindow(pitch) && !f.Front {
		f.Front = true
		registered = PoseFront
	}
	m.done = f.All()
	return registered
}

func inWindow(v float64) bool {
	return v >= -FrontWindow && v <= FrontWindow
}

// Reset clears every flag.
func (m *StateMachine) Reset() {
	m.flags = Flags{}
	m.done = false
}

// Flags returns a copy of the current flags.
func (m *StateMachine) Flags() Flags {
	return m.flags
}

// Done reports whether all five poses have been registered.
func (m *StateMachine) Done() bool {
	return m.done
}

// Expected returns the next pose the user has to present, or PoseNone once
// the challenge is done.
func (m *StateMachine) Expected() Pose {
	switch f := m.flags; {
	case !f.Front:
		return PoseFront
	case !f.Right:
		return PoseRight
	case !f.Left:
		return PoseLeft
	case !f.Up:
		return PoseUp
	case !f.Down:
		return PoseDown
	default:
		return PoseNone
	}
}
