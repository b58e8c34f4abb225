package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want Class
	}{
		{fmt.Errorf("create: %w", ErrInvalidAmount), ClassValidation},
		{ErrInvalidCurrency, ClassValidation},
		{ErrMintLocked, ClassConflict},
		{ErrWindowClosed, ClassConflict},
		{fmt.Errorf("egi e1: %w", ErrDuplicateReservation), ClassConflict},
		{ErrAlreadyTerminal, ClassConflict},
		{ErrNotFound, ClassNotFound},
		{ErrUnauthorized, ClassUnauthorized},
		{ErrForbidden, ClassForbidden},
		{ErrBusy, ClassBusy},
		{fmt.Errorf("convert: %w", ErrRateUnavailable), ClassDependency},
		{ErrIntegrity, ClassIntegrity},
		{ErrRateLimited, ClassRateLimited},
		{errors.New("boom"), ClassInternal},
		{nil, ClassInternal},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Classify(c.err), "err=%v", c.err)
	}
}

func TestRetryableAndReason(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(ErrBusy))
	require.True(t, Retryable(fmt.Errorf("x: %w", ErrRateUnavailable)))
	require.False(t, Retryable(ErrDuplicateReservation))
	require.False(t, Retryable(errors.New("boom")))
	require.False(t, Retryable(ErrRateLimited))

	require.Equal(t, "duplicate_reservation", Reason(fmt.Errorf("x: %w", ErrDuplicateReservation)))
	require.Equal(t, "egi_mint_locked", Reason(ErrMintLocked))
	require.Equal(t, "rate_limited", Reason(ErrRateLimited))
	require.Equal(t, "internal", Reason(errors.New("boom")))
}
