package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"FacePoseServer/challenge"
	"FacePoseServer/engine"
	iface "FacePoseServer/interface"
	"FacePoseServer/logger"
	"FacePoseServer/monitor"
)

type JobPackage struct {
	worker iface.Backend
	frame  challenge.Frame
	Result chan jobResult
}

type jobResult struct {
	Data iface.RetData
}

// JobQueue 有界队列，满了直接丢帧，不排队
var JobQueue chan JobPackage

var (
	CloseChannel chan struct{}
	closeOnce    sync.Once
)

func StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		go runWorker(i)
	}
}

func runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("Worker %d panic: %v. Restarting in 1s...", workerID, r))
			//重启这个 Worker
			time.Sleep(1 * time.Second)
			go runWorker(workerID)
		}
	}()
	logger.Log().Info(fmt.Sprintf("---Worker %d created", workerID))
	for job := range JobQueue {
		job.Result <- jobResult{Data: process(workerID, job)}
	}
}

// process 单帧 panic 时返回失败结果，调用方不会一直等待
func process(workerID int, job JobPackage) (ret iface.RetData) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("Worker %d panic while processing frame: %v", workerID, r))
			ret = iface.RetData{Success: false, Data: fmt.Sprint(r)}
		}
	}()
	return job.worker.Process(job.frame)
}

// submit 把一帧交给 worker，队列满时返回 false
func submit(ctx context.Context, worker iface.Backend, frame challenge.Frame) (iface.RetData, bool, error) {
	result := make(chan jobResult, 1)
	job := JobPackage{worker: worker, frame: frame, Result: result}
	select {
	case JobQueue <- job:
	default:
		monitor.FramesTotal.WithLabelValues(monitor.FrameDropped).Inc()
		return iface.RetData{}, false, nil
	}
	select {
	case r := <-result:
		return r.Data, true, nil
	case <-ctx.Done():
		return iface.RetData{}, true, ctx.Err()
	}
}

func toFrameResponse(ret iface.RetData, queued bool) *FrameResponse {
	if !queued {
		return &FrameResponse{Success: false, Message: "Job queue is full, frame dropped"}
	}
	switch v := ret.Data.(type) {
	case challenge.Feedback:
		return &FrameResponse{Success: ret.Success, Feedback: &v}
	case string:
		return &FrameResponse{Success: false, Message: v}
	default:
		logger.Log().Error(fmt.Sprintf("Unknown type: %T", v))
		return &FrameResponse{Success: false, Message: fmt.Sprintf("unexpected result type %T", v)}
	}
}

type Server struct {
	Registry *engine.Registry
}

func (s *Server) lookup(id string) (*engine.Engine, error) {
	e, ok := s.Registry.Get(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session with ID %s not found", id)
	}
	return e, nil
}

func sessionInfo(id string, e *engine.Engine) *SessionInfo {
	cfg := e.CheckConfig()
	return &SessionInfo{
		Id:          id,
		Description: cfg.Description,
		State:       int32(e.State()),
		Config:      cfg,
		Status:      e.Status(),
	}
}

func (s *Server) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	monitor.GRPCTotal.Inc()
	id, _, err := s.Registry.Create(req.Config)
	if errors.Is(err, engine.ErrCapacity) {
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &CreateSessionResponse{
		Success: true,
		Id:      id,
		Message: "Successfully created session",
	}, nil
}

func (s *Server) SubmitFrame(ctx context.Context, req *FrameRequest) (*FrameResponse, error) {
	monitor.GRPCTotal.Inc()
	e, err := s.lookup(req.Id)
	if err != nil {
		return nil, err
	}
	ret, queued, err := submit(ctx, e, req.Frame)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return toFrameResponse(ret, queued), nil
}

func (s *Server) ResetSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	monitor.GRPCTotal.Inc()
	e, err := s.lookup(req.Id)
	if err != nil {
		return nil, err
	}
	e.Reset()
	return &SessionResponse{Success: true, Info: sessionInfo(req.Id, e), Message: "Session reset"}, nil
}

func (s *Server) CheckSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	monitor.GRPCTotal.Inc()
	e, err := s.lookup(req.Id)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{Success: true, Info: sessionInfo(req.Id, e), Message: "Session status retrieved successfully"}, nil
}

func (s *Server) CheckAllSessions(ctx context.Context, req *emptypb.Empty) (*CheckAllSessionsResponse, error) {
	monitor.GRPCTotal.Inc()
	all := s.Registry.List()
	infos := make([]*SessionInfo, 0, len(all))
	for _, info := range all {
		e, ok := s.Registry.Get(info.ID)
		if !ok {
			continue
		}
		infos = append(infos, sessionInfo(info.ID, e))
	}
	return &CheckAllSessionsResponse{
		Success:  true,
		Sessions: infos,
		Message:  "All sessions status retrieved successfully",
	}, nil
}

func (s *Server) DestroySession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	monitor.GRPCTotal.Inc()
	if !s.Registry.Release(req.Id) {
		logger.Log().Error("session not found with ID", zap.String("ID", req.Id))
		return nil, status.Errorf(codes.NotFound, "session with ID %s not found", req.Id)
	}
	return &SessionResponse{Success: true, Message: "Session destroyed successfully"}, nil
}

// Shutdown 通知 main 退出，会话由 main 统一释放
func (s *Server) Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	logger.Log().Warn("Shutdown requested over gRPC")
	closeOnce.Do(func() { close(CloseChannel) })
	return &emptypb.Empty{}, nil
}

// StreamFrames 第一条消息必须带会话 ID，后续消息可以省略
func (s *Server) StreamFrames(stream ChallengeService_StreamFramesServer) error {
	monitor.GRPCTotal.Inc()
	var id string
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if id == "" {
			id = req.Id
		}
		if id == "" {
			return status.Error(codes.InvalidArgument, "first message must carry the session ID")
		}
		e, err := s.lookup(id)
		if err != nil {
			return err
		}
		ret, queued, err := submit(stream.Context(), e, req.Frame)
		if err != nil {
			return status.FromContextError(err).Err()
		}
		if err := stream.Send(toFrameResponse(ret, queued)); err != nil {
			return err
		}
	}
}

// StartGRPCServer 在 addr 上监听（"127.0.0.1:0" 可用于测试），返回实际地址
func StartGRPCServer(addr string, reg *engine.Registry) (*grpc.Server, net.Addr, error) {
	CloseChannel = make(chan struct{})
	closeOnce = sync.Once{}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s := grpc.NewServer()
	RegisterChallengeServiceServer(s, &Server{Registry: reg})
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, lis.Addr(), nil
}
