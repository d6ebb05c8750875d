package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FacePoseServer/challenge"
	iface "FacePoseServer/interface"
	"FacePoseServer/landmark"
	"FacePoseServer/store"
)

func flatFace() []landmark.Landmark {
	lms := make([]landmark.Landmark, landmark.MeshSize)
	for i := range lms {
		lms[i] = landmark.Landmark{X: 0.5, Y: 0.5}
	}
	lms[landmark.LeftEyeOuter] = landmark.Landmark{X: 0.35, Y: 0.4}
	lms[landmark.RightEyeOuter] = landmark.Landmark{X: 0.65, Y: 0.4}
	lms[landmark.NoseTip] = landmark.Landmark{X: 0.5, Y: 0.55}
	lms[landmark.MouthLeft] = landmark.Landmark{X: 0.4, Y: 0.7}
	lms[landmark.MouthRight] = landmark.Landmark{X: 0.6, Y: 0.7}
	lms[landmark.Chin] = landmark.Landmark{X: 0.5, Y: 0.85}
	return lms
}

func testFrame() challenge.Frame {
	return challenge.Frame{Landmarks: flatFace(), ImageWidth: 480, ImageHeight: 640}
}

// stubSession blocks in Process until release is closed, or completes
// immediately when done is set.
type stubSession struct {
	started chan struct{}
	release chan struct{}
	done    bool
	frames  int
}

func (s *stubSession) Process(challenge.Frame) (challenge.Feedback, error) {
	s.frames++
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	return challenge.Feedback{Instruction: challenge.MsgComplete, Done: s.done, Completed: s.done}, nil
}
func (s *stubSession) Reset() {}
func (s *stubSession) Snapshot() challenge.Status {
	return challenge.Status{Frames: s.frames, Done: s.done}
}

func TestEngine_All(t *testing.T) {
	e := NewEngine("test", store.NewMemory(0))

	t.Run("Test Process before New", func(t *testing.T) {
		ret := e.Process(testFrame())
		assert.False(t, ret.Success)
		assert.Equal(t, "Engine not registered", ret.Data)
	})

	t.Run("Test New", func(t *testing.T) {
		require.NoError(t, e.New(iface.EngineConfig{Description: "kiosk", NoFacePolicy: "keep"}))
		assert.Equal(t, IDLE, e.State())
		assert.Equal(t, "kiosk", e.CheckConfig().Description)
	})

	t.Run("Test Process", func(t *testing.T) {
		ret := e.Process(testFrame())
		require.True(t, ret.Success, "%v", ret.Data)
		fb, ok := ret.Data.(challenge.Feedback)
		require.True(t, ok)
		assert.Equal(t, challenge.MsgLookStraight, fb.Instruction)
		assert.True(t, fb.Flags.Front)
		assert.Equal(t, IDLE, e.State())
	})

	t.Run("Test keep policy", func(t *testing.T) {
		ret := e.Process(challenge.Frame{NoFace: true})
		require.True(t, ret.Success)
		assert.True(t, ret.Data.(challenge.Feedback).Flags.Front)
		assert.Equal(t, "keep", e.Status().NoFacePolicy)
	})

	t.Run("Test invalid frame", func(t *testing.T) {
		f := testFrame()
		f.ImageHeight = 0
		ret := e.Process(f)
		assert.False(t, ret.Success)
		assert.IsType(t, "", ret.Data)
	})

	t.Run("Test Reset", func(t *testing.T) {
		e.Reset()
		assert.Equal(t, challenge.Flags{}, e.Status().Flags)
	})

	t.Run("Test Destroy", func(t *testing.T) {
		e.Destroy()
		assert.Equal(t, UNREGISTERED, e.State())
		assert.False(t, e.Process(testFrame()).Success)
	})
}

func TestEngineRejectsBadConfig(t *testing.T) {
	e := NewEngine("bad", nil)
	assert.Error(t, e.New(iface.EngineConfig{NoFacePolicy: "sometimes"}))
	assert.Error(t, e.New(iface.EngineConfig{MaxFPS: -1}))
}

func TestEngineDropsWhileBusy(t *testing.T) {
	e := NewEngine("busy", nil)
	require.NoError(t, e.New(iface.EngineConfig{}))
	stub := &stubSession{started: make(chan struct{}), release: make(chan struct{})}
	e.session = stub

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, e.Process(testFrame()).Success)
	}()
	<-stub.started

	ret := e.Process(testFrame())
	assert.False(t, ret.Success)
	assert.Equal(t, "Engine is busy", ret.Data)

	close(stub.release)
	wg.Wait()
	assert.Equal(t, IDLE, e.State())
	assert.Equal(t, 1, stub.frames, "dropped frame never reached the session")
}

func TestEngineRateLimit(t *testing.T) {
	e := NewEngine("fps", nil)
	require.NoError(t, e.New(iface.EngineConfig{MaxFPS: 1}))
	assert.True(t, e.Process(testFrame()).Success)
	ret := e.Process(testFrame())
	assert.False(t, ret.Success)
	assert.Equal(t, "Frame rate exceeded", ret.Data)
}

func TestEngineSavesCompletion(t *testing.T) {
	st := store.NewMemory(0)
	e := NewEngine("done", st)
	require.NoError(t, e.New(iface.EngineConfig{Description: "door"}))
	e.session = &stubSession{done: true}

	ret := e.Process(testFrame())
	require.True(t, ret.Success)
	assert.True(t, ret.Data.(challenge.Feedback).Completed)

	rec, err := st.Get(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, "door", rec.Description)
	assert.Equal(t, 1, rec.Frames)
	assert.WithinDuration(t, time.Now(), rec.CompletedAt, time.Minute)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(store.NewMemory(0), iface.EngineConfig{NoFacePolicy: "reset", FailureHintAfter: 5}, time.Minute, 2)

	id, e, err := reg.Create(iface.EngineConfig{Description: "a"})
	require.NoError(t, err)
	assert.Equal(t, 5, e.CheckConfig().FailureHintAfter)
	got, ok := reg.Get(id)
	require.True(t, ok)
	assert.Same(t, e, got)

	_, _, err = reg.Create(iface.EngineConfig{})
	require.NoError(t, err)
	_, _, err = reg.Create(iface.EngineConfig{})
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Len(t, reg.List(), 2)

	var released []string
	reg.OnRelease(func(id string) { released = append(released, id) })
	assert.True(t, reg.Release(id))
	assert.False(t, reg.Release(id))
	assert.Equal(t, []string{id}, released)
	assert.Equal(t, UNREGISTERED, e.State())

	reg.Close()
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryReapsIdleSessions(t *testing.T) {
	reg := NewRegistry(nil, iface.EngineConfig{}, 50*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	id, _, err := reg.Create(iface.EngineConfig{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := reg.Get(id)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
