package repository

import (
	"context"
	"time"

	"github.com/autobooknft/egi-reservations/internal/model"
)

// ReservationRepository provides serialized, transactional access to reservations.
type ReservationRepository interface {
	// WithinEGI runs fn in one transaction that is serialized against every other
	// writer of egiID. Either everything fn wrote commits, or nothing does.
	WithinEGI(ctx context.Context, egiID string, fn func(ctx context.Context, tx ReservationTx) error) error

	// GetReservation returns a single reservation by ID.
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)

	// ListByEGI returns every reservation ever made on an EGI, in creation order.
	ListByEGI(ctx context.Context, egiID string) ([]model.Reservation, error)

	// FindLatestForBidder prefers the bidder's standing reservation, then the newest one.
	FindLatestForBidder(ctx context.Context, egiID, bidderID string) (*model.Reservation, error)

	// ExpiryCandidates lists unlocked EGIs holding weak standing reservations created
	// at or before weakCutoff, or standing reservations after their window closed.
	ExpiryCandidates(ctx context.Context, now, weakCutoff time.Time, limit int) ([]string, error)
}

// ReservationTx is the write surface available inside WithinEGI.
type ReservationTx interface {
	// LockEGI reads the EGI and keeps its mint flag stable until commit.
	LockEGI(ctx context.Context, egiID string) (*model.EGI, error)
	// ListStanding returns active and superseded reservations of an EGI.
	ListStanding(ctx context.Context, egiID string) ([]model.Reservation, error)
	// HasActive reports whether the bidder holds an active reservation on the EGI.
	HasActive(ctx context.Context, egiID, bidderID string) (bool, error)
	// Allocate reserves the next reservation id and logical sequence number.
	Allocate(ctx context.Context) (id, seq int64, err error)
	// Insert stores a new reservation with a previously allocated id.
	Insert(ctx context.Context, r model.Reservation) error
	// Update persists status, is_current and superseded_by_id of an existing reservation.
	Update(ctx context.Context, r model.Reservation) error
	// InsertCertificate stores a certificate in the same transaction as its reservation.
	InsertCertificate(ctx context.Context, c model.Certificate) error
}
