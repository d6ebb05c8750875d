package challenge

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct{ yaw, pitch float64 }

var (
	front = sample{0, 0}
	right = sample{20, 0}
	left  = sample{-20, 0}
	up    = sample{0, 20}
	down  = sample{0, -15}
)

func feed(m *StateMachine, samples ...sample) []Pose {
	got := make([]Pose, 0, len(samples))
	for _, s := range samples {
		got = append(got, m.Update(s.yaw, s.pitch))
	}
	return got
}

func TestStateMachineFront(t *testing.T) {
	for _, s := range []sample{{0, 0}, {8, 8}, {-8, -8}, {7.9, -3}} {
		m := NewStateMachine()
		assert.Equal(t, PoseFront, m.Update(s.yaw, s.pitch), "%v", s)
		assert.Equal(t, Flags{Front: true}, m.Flags())
		assert.False(t, m.Done())
	}

	m := NewStateMachine()
	assert.Equal(t, PoseNone, m.Update(8.01, 0))
	assert.Equal(t, PoseNone, m.Update(0, -8.5))
	assert.Equal(t, Flags{}, m.Flags())
}

func TestStateMachineOrderedSequence(t *testing.T) {
	m := NewStateMachine()
	steps := []struct {
		in   sample
		want Flags
	}{
		{front, Flags{Front: true}},
		{right, Flags{Front: true, Right: true}},
		{left, Flags{Front: true, Right: true, Left: true}},
		{up, Flags{Front: true, Right: true, Left: true, Up: true}},
		{down, Flags{Front: true, Right: true, Left: true, Up: true, Down: true}},
	}
	for i, step := range steps {
		m.Update(step.in.yaw, step.in.pitch)
		assert.Equal(t, step.want, m.Flags(), "step %d", i)
		assert.Equal(t, i == len(steps)-1, m.Done(), "step %d", i)
	}
}

func TestStateMachineOutOfOrder(t *testing.T) {
	t.Run("left before right", func(t *testing.T) {
		m := NewStateMachine()
		assert.Equal(t, []Pose{PoseFront, PoseNone}, feed(m, front, left))
		assert.False(t, m.Flags().Left)
	})

	t.Run("right before front", func(t *testing.T) {
		m := NewStateMachine()
		assert.Equal(t, []Pose{PoseNone, PoseNone, PoseNone}, feed(m, right, up, down))
		assert.Equal(t, Flags{}, m.Flags())
	})

	t.Run("down before up", func(t *testing.T) {
		m := NewStateMachine()
		feed(m, front, right, left, down)
		assert.False(t, m.Flags().Down)
		assert.Equal(t, PoseUp, m.Expected())
	})
}

func TestStateMachineFirstRuleWins(t *testing.T) {
	// yaw -20 with pitch 20 could be left or up; left is checked first
	m := NewStateMachine()
	feed(m, front, right)
	assert.Equal(t, PoseLeft, m.Update(-20, 20))
	assert.False(t, m.Flags().Up)
	assert.Equal(t, PoseUp, m.Update(-20, 20))
}

func TestStateMachineThresholdsAreStrict(t *testing.T) {
	m := NewStateMachine()
	feed(m, front)
	assert.Equal(t, PoseNone, m.Update(15, 0))
	assert.Equal(t, PoseRight, m.Update(15.01, 0))
	assert.Equal(t, PoseNone, m.Update(-15, 0))
	assert.Equal(t, PoseLeft, m.Update(-15.01, 0))
	assert.Equal(t, PoseNone, m.Update(0, 15))
	assert.Equal(t, PoseUp, m.Update(0, 15.01))
	assert.Equal(t, PoseNone, m.Update(0, -10))
	assert.Equal(t, PoseDown, m.Update(0, -10.01))
	assert.True(t, m.Done())
}

func TestStateMachineDoneIsMonotonic(t *testing.T) {
	m := NewStateMachine()
	feed(m, front, right, left, up, down)
	assert.True(t, m.Done())
	assert.Equal(t, PoseNone, m.Expected())
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		assert.Equal(t, PoseNone, m.Update(rng.Float64()*80-40, rng.Float64()*80-40))
		assert.True(t, m.Done())
	}
}

func TestStateMachineReset(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]sample, 300)
	for i := range samples {
		samples[i] = sample{rng.Float64()*60 - 30, rng.Float64()*60 - 30}
	}

	fresh := NewStateMachine()
	reused := NewStateMachine()
	feed(reused, front, right, left)
	reused.Reset()
	assert.Equal(t, Flags{}, reused.Flags())
	assert.False(t, reused.Done())

	for i, s := range samples {
		assert.Equal(t, fresh.Update(s.yaw, s.pitch), reused.Update(s.yaw, s.pitch), "sample %d", i)
		assert.Equal(t, fresh.Flags(), reused.Flags(), "sample %d", i)
		assert.Equal(t, fresh.Done(), reused.Done(), "sample %d", i)
	}
}

// Random walks never set a flag without its predecessor.
func TestStateMachineOrderInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		m := NewStateMachine()
		for i := 0; i < 100; i++ {
			prev := m.Flags()
			m.Update(rng.Float64()*60-30, rng.Float64()*60-30)
			f := m.Flags()
			if f.Right && !prev.Right {
				assert.True(t, prev.Front)
			}
			if f.Left && !prev.Left {
				assert.True(t, prev.Right)
			}
			if f.Up && !prev.Up {
				assert.True(t, prev.Left)
			}
			if f.Down && !prev.Down {
				assert.True(t, prev.Up)
			}
			assert.Equal(t, f.All(), m.Done())
		}
	}
}

func TestExpectedAndInstruction(t *testing.T) {
	m := NewStateMachine()
	want := []string{MsgLookStraight, MsgLookRight, MsgLookLeft, MsgLookUp, MsgLookDown, MsgComplete}
	inputs := []sample{front, right, left, up, down}
	for i, msg := range want {
		assert.Equal(t, msg, Instruction(m.Expected()), "step %d", i)
		if i < len(inputs) {
			m.Update(inputs[i].yaw, inputs[i].pitch)
		}
	}
}

func TestParseNoFacePolicy(t *testing.T) {
	p, err := ParseNoFacePolicy("")
	assert.NoError(t, err)
	assert.Equal(t, ResetFlags, p)

	p, err = ParseNoFacePolicy(" Keep ")
	assert.NoError(t, err)
	assert.Equal(t, KeepFlags, p)
	assert.Equal(t, "keep", p.String())

	_, err = ParseNoFacePolicy("ignore")
	assert.Error(t, err)
}
