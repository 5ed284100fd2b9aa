package ipc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName   = "clipkeeper.ipc.Controller"
	executeMethod = "/" + ServiceName + "/Execute"
	watchMethod   = "/" + ServiceName + "/Watch"
)

// controllerService is what the service descriptor dispatches to.
type controllerService interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
	Watch(req *WatchRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*controllerService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "clipkeeper/ipc",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(controllerService).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(controllerService).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(controllerService).Watch(in, stream)
}
