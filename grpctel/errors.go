package grpctel

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/keltel/controller"
)

// mapErr converts controller error kinds to gRPC status codes, preserving
// the kind in the message so clients can recover it.
func mapErr(err error) error {
	switch {
	case controller.IsKind(err, controller.KindNoSuchCredential):
		return status.Error(codes.NotFound, err.Error())
	case controller.IsKind(err, controller.KindHistoryUnavailable),
		controller.IsKind(err, controller.KindNoKeyData),
		controller.IsKind(err, controller.KindAnchorFailed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case controller.IsKind(err, controller.KindRegistry):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
