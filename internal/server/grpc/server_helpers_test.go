package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/autobooknft/egi-reservations/internal/errs"
)

func TestToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		code   codes.Code
		reason string
	}{
		{fmt.Errorf("x: %w", errs.ErrInvalidAmount), codes.InvalidArgument, "invalid_amount"},
		{errs.ErrInvalidCurrency, codes.InvalidArgument, "invalid_currency"},
		{errs.ErrMintLocked, codes.FailedPrecondition, "egi_mint_locked"},
		{errs.ErrWindowClosed, codes.FailedPrecondition, "mint_window_closed"},
		{errs.ErrAlreadyTerminal, codes.FailedPrecondition, "already_terminal"},
		{fmt.Errorf("egi E1: %w", errs.ErrDuplicateReservation), codes.AlreadyExists, "duplicate_reservation"},
		{errs.ErrNotFound, codes.NotFound, "not_found"},
		{errs.ErrUnauthorized, codes.Unauthenticated, "unauthorized"},
		{errs.ErrForbidden, codes.PermissionDenied, "forbidden"},
		{errs.ErrBusy, codes.Unavailable, "busy"},
		{errs.ErrRateUnavailable, codes.Unavailable, "rate_unavailable"},
		{errs.ErrRateLimited, codes.ResourceExhausted, "rate_limited"},
		{errs.ErrIntegrity, codes.DataLoss, "integrity"},
	}
	for _, c := range cases {
		st := status.Convert(toStatus(c.err))
		if st.Code() != c.code {
			t.Fatalf("%v: code=%v want %v", c.err, st.Code(), c.code)
		}
		if !strings.HasPrefix(st.Message(), c.reason+": ") {
			t.Fatalf("%v: message %q lacks reason %q", c.err, st.Message(), c.reason)
		}
	}
}

func TestToStatus_HidesInternalDetails(t *testing.T) {
	t.Parallel()

	st := status.Convert(toStatus(errors.New("pq: relation reservations does not exist")))
	if st.Code() != codes.Internal || st.Message() != "internal" {
		t.Fatalf("leaked: %v %q", st.Code(), st.Message())
	}
}

func TestToStatus_PassThrough(t *testing.T) {
	t.Parallel()

	if toStatus(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	orig := status.Error(codes.Aborted, "aborted")
	if got := toStatus(orig); status.Code(got) != codes.Aborted {
		t.Fatalf("status rewritten: %v", got)
	}
	if got := toStatus(fmt.Errorf("op: %w", context.DeadlineExceeded)); status.Code(got) != codes.DeadlineExceeded {
		t.Fatalf("deadline: %v", got)
	}
	if got := toStatus(context.Canceled); status.Code(got) != codes.Canceled {
		t.Fatalf("canceled: %v", got)
	}
}
