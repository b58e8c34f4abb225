// Package postgres contains PostgreSQL implementations of repository interfaces.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autobooknft/egi-reservations/internal/errs"
)

// PgxPool is a minimal abstraction over a Postgres connection pool,
// used by repositories. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// BeginTx starts a transaction with the provided options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close shuts down the pool and frees resources.
	Close()
}

// DB wraps pgxpool.Pool to satisfy repository constructors and allow testing.
type DB struct{ Pool PgxPool }

// New creates a new connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Ping checks that the database answers.
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// SQLSTATE codes the ranking state reacts to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeLockNotAvailable    = "55P03"
)

// oneActivePerBidder is the partial index that keeps one active reservation
// per bidder and EGI.
const oneActivePerBidder = "reservations_one_active_bidder_idx"

// storeErr maps server errors onto reservation errors. A lock not taken
// within lock_timeout is errs.ErrBusy. A second active reservation of one
// bidder is errs.ErrDuplicateReservation; any other unique or foreign key
// failure means the ranking state would break and is errs.ErrIntegrity.
// Everything else passes through unchanged.
func storeErr(err error) error {
	var pg *pgconn.PgError
	if !errors.As(err, &pg) {
		return err
	}
	switch pg.Code {
	case codeLockNotAvailable:
		return errs.ErrBusy
	case codeUniqueViolation:
		if pg.ConstraintName == "" || pg.ConstraintName == oneActivePerBidder {
			return errs.ErrDuplicateReservation
		}
		return fmt.Errorf("%w: %s", errs.ErrIntegrity, pg.ConstraintName)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", errs.ErrIntegrity, pg.ConstraintName)
	}
	return err
}
