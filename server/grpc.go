package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionServiceDesc describes the session service for native gRPC.
// Messages are google.protobuf.Struct, so no generated code is needed.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		grpcMethod("CreateSession", SessionServer.CreateSession),
		grpcMethod("DestroySession", SessionServer.DestroySession),
		grpcMethod("Compile", SessionServer.Compile),
		grpcMethod("Call", SessionServer.Call),
		grpcMethod("Resume", SessionServer.Resume),
		grpcMethod("Drop", SessionServer.Drop),
		grpcMethod("Complete", SessionServer.Complete),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rill/v1/session.proto",
}

// RegisterSessionServer registers svc with a gRPC server.
func RegisterSessionServer(s grpc.ServiceRegistrar, svc SessionServer) {
	s.RegisterService(&SessionServiceDesc, svc)
}

func grpcMethod(name string, call func(SessionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + SessionServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(SessionServer), ctx, req.(*structpb.Struct))
				if err != nil {
					return nil, grpcError(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// grpcError maps Connect errors onto gRPC status errors. The two
// protocols share their code numbering.
func grpcError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return status.Error(codes.Internal, err.Error())
}
