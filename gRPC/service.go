package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"FacePoseServer/challenge"
	iface "FacePoseServer/interface"
)

const serviceName = "posechallenge.ChallengeService"

type CreateSessionRequest struct {
	Config iface.EngineConfig `json:"config"`
}

type CreateSessionResponse struct {
	Success bool   `json:"success"`
	Id      string `json:"id"`
	Message string `json:"message"`
}

type FrameRequest struct {
	Id    string          `json:"id"`
	Frame challenge.Frame `json:"frame"`
}

type FrameResponse struct {
	Success  bool                `json:"success"`
	Feedback *challenge.Feedback `json:"feedback,omitempty"`
	Message  string              `json:"message,omitempty"`
}

type SessionRequest struct {
	Id string `json:"id"`
}

type SessionInfo struct {
	Id          string             `json:"id"`
	Description string             `json:"description"`
	State       int32              `json:"state"`
	Config      iface.EngineConfig `json:"config"`
	Status      challenge.Status   `json:"status"`
}

type SessionResponse struct {
	Success bool         `json:"success"`
	Info    *SessionInfo `json:"info,omitempty"`
	Message string       `json:"message"`
}

type CheckAllSessionsResponse struct {
	Success  bool           `json:"success"`
	Sessions []*SessionInfo `json:"sessions"`
	Message  string         `json:"message"`
}

// ChallengeServiceServer 服务端需要实现的方法
type ChallengeServiceServer interface {
	CreateSession(context.Context, *CreateSessionRequest) (*CreateSessionResponse, error)
	SubmitFrame(context.Context, *FrameRequest) (*FrameResponse, error)
	ResetSession(context.Context, *SessionRequest) (*SessionResponse, error)
	CheckSession(context.Context, *SessionRequest) (*SessionResponse, error)
	CheckAllSessions(context.Context, *emptypb.Empty) (*CheckAllSessionsResponse, error)
	DestroySession(context.Context, *SessionRequest) (*SessionResponse, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	StreamFrames(ChallengeService_StreamFramesServer) error
}

func RegisterChallengeServiceServer(s grpc.ServiceRegistrar, srv ChallengeServiceServer) {
	s.RegisterService(&ChallengeService_ServiceDesc, srv)
}

// unary 生成一元方法的 handler
func unary[Req any, Resp any](name string, call func(ChallengeServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChallengeServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChallengeServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ChallengeService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChallengeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateSession", ChallengeServiceServer.CreateSession),
		unary("SubmitFrame", ChallengeServiceServer.SubmitFrame),
		unary("ResetSession", ChallengeServiceServer.ResetSession),
		unary("CheckSession", ChallengeServiceServer.CheckSession),
		unary("CheckAllSessions", ChallengeServiceServer.CheckAllSessions),
		unary("DestroySession", ChallengeServiceServer.DestroySession),
		unary("Shutdown", ChallengeServiceServer.Shutdown),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "posechallenge.proto",
}

type ChallengeService_StreamFramesServer interface {
	Send(*FrameResponse) error
	Recv() (*FrameRequest, error)
	grpc.ServerStream
}

type streamFramesServer struct {
	grpc.ServerStream
}

func (x *streamFramesServer) Send(m *FrameResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *streamFramesServer) Recv() (*FrameRequest, error) {
	m := new(FrameRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ChallengeServiceServer).StreamFrames(&streamFramesServer{stream})
}

// ChallengeServiceClient 对应的客户端
type ChallengeServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewChallengeServiceClient(cc grpc.ClientConnInterface) *ChallengeServiceClient {
	return &ChallengeServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(ContentSubtype)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChallengeServiceClient) CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error) {
	return invoke[CreateSessionResponse](ctx, c.cc, "CreateSession", in, opts)
}

func (c *ChallengeServiceClient) SubmitFrame(ctx context.Context, in *FrameRequest, opts ...grpc.CallOption) (*FrameResponse, error) {
	return invoke[FrameResponse](ctx, c.cc, "SubmitFrame", in, opts)
}

func (c *ChallengeServiceClient) ResetSession(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, "ResetSession", in, opts)
}

func (c *ChallengeServiceClient) CheckSession(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, "CheckSession", in, opts)
}

func (c *ChallengeServiceClient) CheckAllSessions(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllSessionsResponse, error) {
	return invoke[CheckAllSessionsResponse](ctx, c.cc, "CheckAllSessions", in, opts)
}

func (c *ChallengeServiceClient) DestroySession(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invoke[SessionResponse](ctx, c.cc, "DestroySession", in, opts)
}

func (c *ChallengeServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Shutdown", in, opts)
}

type ChallengeService_StreamFramesClient interface {
	Send(*FrameRequest) error
	Recv() (*FrameResponse, error)
	grpc.ClientStream
}

type streamFramesClient struct {
	grpc.ClientStream
}

func (x *streamFramesClient) Send(m *FrameRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *streamFramesClient) Recv() (*FrameResponse, error) {
	m := new(FrameResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *ChallengeServiceClient) StreamFrames(ctx context.Context, opts ...grpc.CallOption) (ChallengeService_StreamFramesClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(ContentSubtype)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ChallengeService_ServiceDesc.Streams[0], "/"+serviceName+"/StreamFrames", opts...)
	if err != nil {
		return nil, err
	}
	return &streamFramesClient{stream}, nil
}
