package errs

import "errors"

// Class groups sentinels by how callers should react to them.
type Class int

const (
	ClassInternal Class = iota
	ClassValidation
	ClassConflict
	ClassNotFound
	ClassUnauthorized
	ClassForbidden
	ClassBusy
	ClassDependency
	ClassIntegrity
	ClassRateLimited
)

// Classify maps an error chain to its class. Unknown errors are internal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCurrency), errors.Is(err, ErrInvalidArgument):
		return ClassValidation
	case errors.Is(err, ErrMintLocked), errors.Is(err, ErrWindowClosed),
		errors.Is(err, ErrDuplicateReservation), errors.Is(err, ErrAlreadyTerminal):
		return ClassConflict
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrForbidden):
		return ClassForbidden
	case errors.Is(err, ErrBusy):
		return ClassBusy
	case errors.Is(err, ErrRateUnavailable), errors.Is(err, ErrIdentityUnavailable):
		return ClassDependency
	case errors.Is(err, ErrIntegrity):
		return ClassIntegrity
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	default:
		return ClassInternal
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	c := Classify(err)
	return c == ClassBusy || c == ClassDependency
}

// Reason returns a stable machine-readable reason code for err.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidCurrency):
		return "invalid_currency"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrMintLocked):
		return "egi_mint_locked"
	case errors.Is(err, ErrWindowClosed):
		return "mint_window_closed"
	case errors.Is(err, ErrDuplicateReservation):
		return "duplicate_reservation"
	case errors.Is(err, ErrAlreadyTerminal):
		return "already_terminal"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrRateUnavailable):
		return "rate_unavailable"
	case errors.Is(err, ErrIdentityUnavailable):
		return "identity_unavailable"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
