package grpctel

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/keltel/controller"
)

// Server exposes a controller's read-only queries over the TEL gRPC service.
type Server struct {
	UnimplementedTELServer
	Controller *controller.Controller
}

func (s *Server) State(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	_ = ctx
	if s == nil || s.Controller == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing controller")
	}
	credential := in.GetValue()
	if credential == "" {
		return nil, status.Error(codes.InvalidArgument, "missing credential digest")
	}
	state, err := s.Controller.VCState(credential)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(string(state.Status)), nil
}

func (s *Server) Log(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Controller == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing controller")
	}
	credential := in.GetValue()
	if credential == "" {
		return nil, status.Error(codes.InvalidArgument, "missing credential digest")
	}
	log, err := s.Controller.TEL(credential)
	if err != nil {
		return nil, mapErr(err)
	}
	b, err := json.Marshal(log)
	if err != nil {
		return nil, status.Error(codes.Internal, "encoding credential log")
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) SigningKeys(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Controller == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing controller")
	}
	credential := in.GetValue()
	if credential == "" {
		return nil, status.Error(codes.InvalidArgument, "missing credential digest")
	}
	ks, err := s.Controller.SigningKeys(credential)
	if err != nil {
		return nil, mapErr(err)
	}
	encoded := make([]string, len(ks))
	for i, k := range ks {
		encoded[i] = k.String()
	}
	b, err := json.Marshal(encoded)
	if err != nil {
		return nil, status.Error(codes.Internal, "encoding key set")
	}
	return wrapperspb.Bytes(b), nil
}
