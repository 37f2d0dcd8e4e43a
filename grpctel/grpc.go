// Package grpctel exposes a controller's read-only query surface over gRPC:
// credential state, credential log, and anchored signing-key resolution.
// Writes never cross this boundary; the controller stays the sole writer
// to its logs.
package grpctel

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TELServer is the server API for the TEL query gRPC service.
//
// We intentionally use protobuf well-known wrapper types so this package
// does not require a protoc/codegen toolchain. Credentials are addressed by
// their digest string; Log and SigningKeys reply with JSON-encoded values.
//
// Proto definition: tel.proto.
type TELServer interface {
	State(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Log(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	SigningKeys(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedTELServer can be embedded to have forward compatible implementations.
type UnimplementedTELServer struct{}

func (UnimplementedTELServer) State(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method State not implemented")
}
func (UnimplementedTELServer) Log(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Log not implemented")
}
func (UnimplementedTELServer) SigningKeys(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SigningKeys not implemented")
}

// RegisterTELServer registers the TEL query service on a gRPC server.
func RegisterTELServer(s grpc.ServiceRegistrar, srv TELServer) {
	s.RegisterService(&TEL_ServiceDesc, srv)
}

// TELClient is the client API for the TEL query gRPC service.
type TELClient interface {
	State(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Log(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	SigningKeys(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type telClient struct{ cc grpc.ClientConnInterface }

func NewTELClient(cc grpc.ClientConnInterface) TELClient { return &telClient{cc: cc} }

func (c *telClient) State(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	err := c.cc.Invoke(ctx, "/keltel.grpctel.v1.TEL/State", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *telClient) Log(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/keltel.grpctel.v1.TEL/Log", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *telClient) SigningKeys(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/keltel.grpctel.v1.TEL/SigningKeys", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func _TEL_State_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TELServer).State(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/keltel.grpctel.v1.TEL/State"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TELServer).State(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _TEL_Log_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TELServer).Log(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/keltel.grpctel.v1.TEL/Log"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TELServer).Log(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _TEL_SigningKeys_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TELServer).SigningKeys(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/keltel.grpctel.v1.TEL/SigningKeys"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TELServer).SigningKeys(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// TEL_ServiceDesc is the grpc.ServiceDesc for the TEL query service.
var TEL_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "keltel.grpctel.v1.TEL",
	HandlerType: (*TELServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "State", Handler: _TEL_State_Handler},
		{MethodName: "Log", Handler: _TEL_Log_Handler},
		{MethodName: "SigningKeys", Handler: _TEL_SigningKeys_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tel.proto",
}
