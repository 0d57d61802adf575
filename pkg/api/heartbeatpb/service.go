package heartbeatpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ServiceName is the fully qualified name of the heartbeat service
	ServiceName = "l7b.heartbeat.HeartbeatService"
	// HeartbeatMethod is the full method name of the Heartbeat rpc
	HeartbeatMethod = "/" + ServiceName + "/Heartbeat"
)

// HeartbeatServiceClient is the client API for the heartbeat service
type HeartbeatServiceClient interface {
	Heartbeat(ctx context.Context, in *HeartBeat, opts ...grpc.CallOption) (*ServerResponse, error)
}

type heartbeatServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewHeartbeatServiceClient creates a client on cc
func NewHeartbeatServiceClient(cc grpc.ClientConnInterface) HeartbeatServiceClient {
	return &heartbeatServiceClient{cc: cc}
}

func (c *heartbeatServiceClient) Heartbeat(ctx context.Context, in *HeartBeat, opts ...grpc.CallOption) (*ServerResponse, error) {
	out := new(ServerResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := c.cc.Invoke(ctx, HeartbeatMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// HeartbeatServiceServer is the server API for the heartbeat service. A
// controller implements it; the agent only uses it in tests.
type HeartbeatServiceServer interface {
	Heartbeat(ctx context.Context, in *HeartBeat) (*ServerResponse, error)
}

// UnimplementedHeartbeatServiceServer can be embedded to satisfy the interface
type UnimplementedHeartbeatServiceServer struct{}

func (UnimplementedHeartbeatServiceServer) Heartbeat(context.Context, *HeartBeat) (*ServerResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Heartbeat not implemented")
}

// RegisterHeartbeatServiceServer registers srv on s. The server must be
// created with grpc.ForceServerCodec(Codec{}).
func RegisterHeartbeatServiceServer(s grpc.ServiceRegistrar, srv HeartbeatServiceServer) {
	s.RegisterService(&heartbeatServiceDesc, srv)
}

func heartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartBeat)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HeartbeatServiceServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: HeartbeatMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HeartbeatServiceServer).Heartbeat(ctx, req.(*HeartBeat))
	}
	return interceptor(ctx, in, info, handler)
}

var heartbeatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HeartbeatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Heartbeat",
			Handler:    heartbeatHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "heartbeat.proto",
}
