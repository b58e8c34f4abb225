package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/autobooknft/egi-reservations/internal/errs"
)

// toStatus maps service errors to gRPC status. The message starts with the
// stable reason code; internal details are never sent to clients.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}

	var code codes.Code
	switch errs.Classify(err) {
	case errs.ClassValidation:
		code = codes.InvalidArgument
	case errs.ClassConflict:
		code = codes.FailedPrecondition
		if errors.Is(err, errs.ErrDuplicateReservation) {
			code = codes.AlreadyExists
		}
	case errs.ClassNotFound:
		code = codes.NotFound
	case errs.ClassUnauthorized:
		code = codes.Unauthenticated
	case errs.ClassForbidden:
		code = codes.PermissionDenied
	case errs.ClassBusy, errs.ClassDependency:
		code = codes.Unavailable
	case errs.ClassRateLimited:
		code = codes.ResourceExhausted
	case errs.ClassIntegrity:
		code = codes.DataLoss
	default:
		return status.Error(codes.Internal, "internal")
	}
	return status.Error(code, errs.Reason(err)+": "+err.Error())
}
