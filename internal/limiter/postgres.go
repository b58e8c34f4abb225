package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding window and lockout. It is
// shared by every service instance using the same database.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether the bidder may attempt and a retry-after duration.
func (l *PG) Allow(ctx context.Context, key []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM bid_limiter WHERE bidder_hash=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, key).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets the counters of key.
func (l *PG) Success(ctx context.Context, key []byte) error {
	const q = `
INSERT INTO bid_limiter (bidder_hash, fail_count, blocked_until, updated_at)
VALUES ($1,0,'epoch',now())
ON CONFLICT (bidder_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, key)
	return err
}

// Failure records a rejected attempt; may set a block until a future time.
// Counts older than the window start over.
func (l *PG) Failure(ctx context.Context, key []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO bid_limiter (bidder_hash, fail_count, blocked_until, updated_at)
VALUES ($1,1,'epoch',now())
ON CONFLICT (bidder_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - bid_limiter.updated_at > $2::interval THEN 1 ELSE bid_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, key, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE bid_limiter SET blocked_until=$2 WHERE bidder_hash=$1`
	if _, err := l.pool.Exec(ctx, upd, key, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
