package proto

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"FacePoseServer/challenge"
	"FacePoseServer/engine"
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

func startTestServer(t *testing.T) (*ChallengeServiceClient, *engine.Registry) {
	t.Helper()
	reg := engine.NewRegistry(store.NewMemory(0), iface.EngineConfig{NoFacePolicy: "reset"}, 0, 0)
	JobQueue = make(chan JobPackage, 10)
	StartWorker(2)

	server, addr, err := StartGRPCServer("127.0.0.1:0", reg)
	require.NoError(t, err)

	conn, err := grpc.NewClient(addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		close(JobQueue)
	})
	return NewChallengeServiceClient(conn), reg
}

func TestChallengeService(t *testing.T) {
	client, reg := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created, err := client.CreateSession(ctx, &CreateSessionRequest{Config: iface.EngineConfig{Description: "grpc"}})
	require.NoError(t, err)
	require.True(t, created.Success)
	id := created.Id
	assert.Equal(t, 1, reg.Len())

	t.Run("Test SubmitFrame", func(t *testing.T) {
		resp, err := client.SubmitFrame(ctx, &FrameRequest{
			Id:    id,
			Frame: challenge.Frame{Landmarks: flatFace(), ImageWidth: 480, ImageHeight: 640},
		})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Message)
		require.NotNil(t, resp.Feedback)
		assert.Equal(t, challenge.MsgLookStraight, resp.Feedback.Instruction)
		assert.True(t, resp.Feedback.Flags.Front)
		assert.InDelta(t, 0, resp.Feedback.Yaw, 1e-2)
	})

	t.Run("Test CheckSession", func(t *testing.T) {
		resp, err := client.CheckSession(ctx, &SessionRequest{Id: id})
		require.NoError(t, err)
		require.NotNil(t, resp.Info)
		assert.Equal(t, "grpc", resp.Info.Description)
		assert.Equal(t, "reset", resp.Info.Config.NoFacePolicy)
		assert.True(t, resp.Info.Status.Flags.Front)
		assert.Equal(t, 1, resp.Info.Status.Frames)
	})

	t.Run("Test CheckAllSessions", func(t *testing.T) {
		resp, err := client.CheckAllSessions(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		if assert.Len(t, resp.Sessions, 1) {
			assert.Equal(t, id, resp.Sessions[0].Id)
		}
	})

	t.Run("Test ResetSession", func(t *testing.T) {
		resp, err := client.ResetSession(ctx, &SessionRequest{Id: id})
		require.NoError(t, err)
		assert.Equal(t, challenge.Flags{}, resp.Info.Status.Flags)
	})

	t.Run("Test StreamFrames", func(t *testing.T) {
		stream, err := client.StreamFrames(ctx)
		require.NoError(t, err)
		require.NoError(t, stream.Send(&FrameRequest{Id: id, Frame: challenge.Frame{Landmarks: flatFace(), ImageWidth: 480, ImageHeight: 640}}))
		first, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, "front", first.Feedback.Registered)

		require.NoError(t, stream.Send(&FrameRequest{Frame: challenge.Frame{NoFace: true}}))
		second, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, challenge.MsgNoFace, second.Feedback.Instruction)
		assert.False(t, second.Feedback.Flags.Front)

		require.NoError(t, stream.CloseSend())
		_, err = stream.Recv()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("Test unknown session", func(t *testing.T) {
		_, err := client.SubmitFrame(ctx, &FrameRequest{Id: "missing"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Test DestroySession", func(t *testing.T) {
		_, err := client.DestroySession(ctx, &SessionRequest{Id: id})
		require.NoError(t, err)
		assert.Equal(t, 0, reg.Len())
		_, err = client.DestroySession(ctx, &SessionRequest{Id: id})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Test Shutdown", func(t *testing.T) {
		_, err := client.Shutdown(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		select {
		case <-CloseChannel:
		case <-time.After(time.Second):
			t.Fatal("CloseChannel was not closed")
		}
		_, err = client.Shutdown(ctx, &emptypb.Empty{})
		assert.NoError(t, err, "second shutdown is a no-op")
	})
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	JobQueue = make(chan JobPackage) // no workers, no buffer
	defer func() { JobQueue = nil }()
	e := engine.NewEngine("full", nil)
	require.NoError(t, e.New(iface.EngineConfig{}))

	ret, queued, err := submit(context.Background(), e, challenge.Frame{NoFace: true})
	require.NoError(t, err)
	assert.False(t, queued)
	resp := toFrameResponse(ret, queued)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "queue is full")
}

// panicBackend 的 Process 总是 panic
type panicBackend struct{}

func (panicBackend) New(iface.EngineConfig) error { return nil }
func (panicBackend) Process(challenge.Frame) iface.RetData {
	panic("malformed landmarks")
}
func (panicBackend) Reset() {}
func (panicBackend) Status() challenge.Status { return challenge.Status{} }
func (panicBackend) CheckConfig() iface.EngineConfig { return iface.EngineConfig{} }
func (panicBackend) Destroy() {}

func TestSubmitRecoversWorkerPanic(t *testing.T) {
	JobQueue = make(chan JobPackage, 1)
	StartWorker(1)
	defer func() {
		close(JobQueue)
		JobQueue = nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		ret, queued, err := submit(ctx, panicBackend{}, challenge.Frame{NoFace: true})
		require.NoError(t, err, "frame %d", i)
		assert.True(t, queued)
		resp := toFrameResponse(ret, queued)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, "malformed landmarks")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(&FrameRequest{Id: "x", Frame: challenge.Frame{NoFace: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","frame":{"noFace":true,"imageWidth":0,"imageHeight":0}}`, string(data))

	empty, err := c.Marshal(&emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
	assert.NoError(t, c.Unmarshal(empty, &emptypb.Empty{}))
}
