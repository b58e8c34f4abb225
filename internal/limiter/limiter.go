// Package limiter throttles bidders whose reservation attempts keep getting rejected.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter tracks rejected attempts per bidder and places temporary blocks.
type Limiter interface {
	// Allow reports whether the bidder may attempt now and an optional retry-after.
	Allow(ctx context.Context, key []byte) (bool, time.Duration, error)
	// Success resets counters after an accepted attempt.
	Success(ctx context.Context, key []byte) error
	// Failure records a rejected attempt; may place a temporary block.
	Failure(ctx context.Context, key []byte) (bool, time.Duration, error)
}

// Key returns a stable hash for a bidder id so raw ids are never stored.
func Key(bidderID string) []byte {
	h := sha256.Sum256([]byte(bidderID))
	return h[:]
}

// Nop never blocks.
type Nop struct{}

func (Nop) Allow(context.Context, []byte) (bool, time.Duration, error)   { return true, 0, nil }
func (Nop) Success(context.Context, []byte) error                        { return nil }
func (Nop) Failure(context.Context, []byte) (bool, time.Duration, error) { return false, 0, nil }
