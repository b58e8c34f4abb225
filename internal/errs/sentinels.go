// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller could not be identified.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller does not own the target reservation.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidAmount indicates a non-positive offer or one below the configured floor.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency indicates an offer in a currency the engine does not rank.
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrInvalidArgument covers malformed identifiers and missing fields.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMintLocked indicates the EGI is minted/published and its ranking is frozen.
	ErrMintLocked = errors.New("egi mint locked")

	// ErrWindowClosed indicates the pre-mint reservation window of the EGI has closed.
	ErrWindowClosed = errors.New("mint window closed")

	// ErrDuplicateReservation indicates the bidder already holds an active reservation on the EGI.
	ErrDuplicateReservation = errors.New("duplicate reservation")

	// ErrAlreadyTerminal indicates the reservation was already cancelled or expired.
	ErrAlreadyTerminal = errors.New("reservation already terminal")

	// ErrBusy indicates the per-EGI section could not be entered in time. Retryable.
	ErrBusy = errors.New("resource busy")

	// ErrRateLimited indicates the bidder is temporarily blocked after repeated rejected attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrRateUnavailable indicates the rate converter failed. Retryable.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrIdentityUnavailable indicates the identity backend failed. Retryable.
	ErrIdentityUnavailable = errors.New("identity unavailable")

	// ErrIntegrity indicates a certificate no longer matches its signature.
	ErrIntegrity = errors.New("integrity violation")
)
