package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/model"
	"github.com/autobooknft/egi-reservations/internal/repository"
)

// ReservationRepo implements ReservationRepository using PostgreSQL.
// Writers of one EGI are serialized with a transaction-scoped advisory lock,
// which also holds across service instances sharing the database.
type ReservationRepo struct {
	db          *DB
	lockTimeout time.Duration
}

// NewReservationRepo constructs a reservation repository. lockTimeout bounds the
// wait for the per-EGI advisory lock; zero waits indefinitely.
func NewReservationRepo(db *DB, lockTimeout time.Duration) *ReservationRepo {
	return &ReservationRepo{db: db, lockTimeout: lockTimeout}
}

var _ repository.ReservationRepository = (*ReservationRepo)(nil)

// WithinEGI opens a transaction, takes the EGI advisory lock and runs fn.
func (r *ReservationRepo) WithinEGI(
	ctx context.Context, egiID string, fn func(ctx context.Context, tx repository.ReservationTx) error,
) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		// deferred foreign keys are checked here
		if e := tx.Commit(ctx); e != nil {
			err = storeErr(e)
		}
	}()

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err = tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "egi:"+egiID); err != nil {
		return storeErr(err)
	}
	return fn(ctx, &reservationTx{tx: tx})
}

// GetReservation returns a single reservation by id.
func (r *ReservationRepo) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations WHERE id=$1`
	res, err := scanReservation(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ListByEGI returns every reservation of an EGI ordered by id.
func (r *ReservationRepo) ListByEGI(ctx context.Context, egiID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations WHERE egi_id=$1 ORDER BY id ASC`
	rows, err := r.db.Pool.Query(ctx, q, egiID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// FindLatestForBidder returns the bidder's standing reservation if any, else the newest one.
func (r *ReservationRepo) FindLatestForBidder(ctx context.Context, egiID, bidderID string) (*model.Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations
WHERE egi_id=$1 AND bidder_id=$2
ORDER BY (status IN ('active','superseded')) DESC, id DESC
LIMIT 1`
	res, err := scanReservation(r.db.Pool.QueryRow(ctx, q, egiID, bidderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ExpiryCandidates lists EGIs the sweeper has work on.
func (r *ReservationRepo) ExpiryCandidates(ctx context.Context, now, weakCutoff time.Time, limit int) ([]string, error) {
	const q = `
SELECT DISTINCT r.egi_id
FROM reservations r JOIN egis e ON e.id = r.egi_id
WHERE r.status IN ('active','superseded') AND NOT e.mint_locked
  AND ((r.auth_strength = 'weak' AND r.created_at <= $2)
    OR (e.mint_window_closes_at IS NOT NULL AND e.mint_window_closes_at <= $1))
ORDER BY r.egi_id
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, now, weakCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// reservationTx runs statements on the transaction opened by WithinEGI.
type reservationTx struct{ tx pgx.Tx }

func (t *reservationTx) LockEGI(ctx context.Context, egiID string) (*model.EGI, error) {
	const q = `
SELECT id, collection_id, title, collection_name, mint_locked, mint_window_closes_at
FROM egis WHERE id=$1 FOR SHARE`
	var e model.EGI
	err := t.tx.QueryRow(ctx, q, egiID).
		Scan(&e.ID, &e.CollectionID, &e.Title, &e.CollectionName, &e.MintLocked, &e.MintWindowClosesAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (t *reservationTx) ListStanding(ctx context.Context, egiID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations
WHERE egi_id=$1 AND status IN ('active','superseded')
ORDER BY id ASC FOR UPDATE`
	rows, err := t.tx.Query(ctx, q, egiID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (t *reservationTx) HasActive(ctx context.Context, egiID, bidderID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM reservations WHERE egi_id=$1 AND bidder_id=$2 AND status='active')`
	var ok bool
	if err := t.tx.QueryRow(ctx, q, egiID, bidderID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (t *reservationTx) Allocate(ctx context.Context) (int64, int64, error) {
	const q = `SELECT nextval('reservations_id_seq'), nextval('reservation_seq')`
	var id, seq int64
	if err := t.tx.QueryRow(ctx, q).Scan(&id, &seq); err != nil {
		return 0, 0, err
	}
	return id, seq, nil
}

func (t *reservationTx) Insert(ctx context.Context, r model.Reservation) error {
	const q = `
INSERT INTO reservations (id, egi_id, bidder_id, auth_strength, offer_fiat, currency, offer_crypto,
  crypto_currency, status, is_current, superseded_by_id, seq, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := t.tx.Exec(ctx, q,
		r.ID, r.EGIID, r.BidderID, string(r.AuthStrength),
		r.OfferFiat.String(), r.Currency, r.OfferCrypto.String(), r.CryptoCurrency,
		string(r.Status), r.IsCurrent, r.SupersededByID, r.Seq,
		r.CreatedAt, r.UpdatedAt,
	)
	return storeErr(err)
}

func (t *reservationTx) Update(ctx context.Context, r model.Reservation) error {
	const q = `UPDATE reservations SET status=$2, is_current=$3, superseded_by_id=$4, updated_at=$5 WHERE id=$1`
	tag, err := t.tx.Exec(ctx, q, r.ID, string(r.Status), r.IsCurrent, r.SupersededByID, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (t *reservationTx) InsertCertificate(ctx context.Context, c model.Certificate) error {
	const q = `
INSERT INTO reservation_certificates (uuid, reservation_id, snapshot, signature_hash, issued_at)
VALUES ($1,$2,$3,$4,$5)`
	_, err := t.tx.Exec(ctx, q, c.UUID, c.ReservationID, c.Snapshot, c.SignatureHash, c.IssuedAt)
	return storeErr(err)
}
