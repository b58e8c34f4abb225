package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/model"
)

// EGIRepo implements EGIRepository and CertificateRepository using PostgreSQL.
// The egis table is fed by the collection subsystem; this repo only reads it.
type EGIRepo struct{ db *DB }

// NewEGIRepo constructs an EGI/certificate repository.
func NewEGIRepo(db *DB) *EGIRepo { return &EGIRepo{db: db} }

// GetEGI selects an EGI by ID.
func (r *EGIRepo) GetEGI(ctx context.Context, id string) (*model.EGI, error) {
	const q = `
SELECT id, collection_id, title, collection_name, mint_locked, mint_window_closes_at
FROM egis WHERE id=$1`
	var e model.EGI
	err := r.db.Pool.QueryRow(ctx, q, id).
		Scan(&e.ID, &e.CollectionID, &e.Title, &e.CollectionName, &e.MintLocked, &e.MintWindowClosesAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// IsLocked reports the mint flag of an EGI.
func (r *EGIRepo) IsLocked(ctx context.Context, id string) (bool, error) {
	const q = `SELECT mint_locked FROM egis WHERE id=$1`
	var locked bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, errs.ErrNotFound
		}
		return false, err
	}
	return locked, nil
}

// GetCertificate selects a certificate by UUID.
func (r *EGIRepo) GetCertificate(ctx context.Context, id string) (*model.Certificate, error) {
	const q = `
SELECT uuid::text, reservation_id, snapshot, signature_hash, issued_at
FROM reservation_certificates WHERE uuid=$1`
	return r.scanCertificate(r.db.Pool.QueryRow(ctx, q, id))
}

// GetCertificateByReservation selects the certificate of a reservation.
func (r *EGIRepo) GetCertificateByReservation(ctx context.Context, reservationID int64) (*model.Certificate, error) {
	const q = `
SELECT uuid::text, reservation_id, snapshot, signature_hash, issued_at
FROM reservation_certificates WHERE reservation_id=$1`
	return r.scanCertificate(r.db.Pool.QueryRow(ctx, q, reservationID))
}

func (r *EGIRepo) scanCertificate(row pgx.Row) (*model.Certificate, error) {
	var c model.Certificate
	if err := row.Scan(&c.UUID, &c.ReservationID, &c.Snapshot, &c.SignatureHash, &c.IssuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
