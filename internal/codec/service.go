package codec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The step service carries its payloads as google.protobuf.Struct so that no
// generated message types are needed. Request fields: channel_block (number),
// shape (4 numbers), current (re/im interleaved). Response field: next.

const (
	serviceName = "ddecal.StepService"
	stepMethod  = "/" + serviceName + "/Step"
)

// #region client-interface
// StepServiceClient is the client API for the step service.
type StepServiceClient interface {
	Step(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type stepServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStepServiceClient wraps a connection in the step service client API.
func NewStepServiceClient(cc grpc.ClientConnInterface) StepServiceClient {
	return &stepServiceClient{cc: cc}
}

func (c *stepServiceClient) Step(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, stepMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion client-interface

// #region server-interface
// StepServiceServer is the server API for the step service.
type StepServiceServer interface {
	Step(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterStepServiceServer registers srv on s.
func RegisterStepServiceServer(s grpc.ServiceRegistrar, srv StepServiceServer) {
	s.RegisterService(&stepServiceDesc, srv)
}

func stepHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StepServiceServer).Step(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: stepMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StepServiceServer).Step(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var stepServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StepServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Step", Handler: stepHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ddecal/step.proto",
}

// #endregion server-interface
