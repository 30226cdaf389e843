package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/badgekeeper/internal/types"
)

// Auth errors mapped in auth package interceptor.
// Repository failures are mapped to UNAVAILABLE at the call site.

// statusFromError maps engine errors to gRPC status.
//   - compile errors (types.ErrParse) -> INVALID_ARGUMENT
//   - missing rules (types.ErrRuleNotFound) -> NOT_FOUND
//   - context timeouts -> DEADLINE_EXCEEDED / CANCELED
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, types.ErrParse):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrRuleNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func invalidArgument(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func unavailable(format string, args ...interface{}) error {
	return status.Errorf(codes.Unavailable, format, args...)
}
