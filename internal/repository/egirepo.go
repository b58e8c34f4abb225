// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/autobooknft/egi-reservations/internal/model"
)

// EGIRepository gives read access to EGIs owned by the collection subsystem.
type EGIRepository interface {
	// GetEGI loads an EGI by ID.
	GetEGI(ctx context.Context, id string) (*model.EGI, error)
	// IsLocked reports whether the EGI is minted/published.
	IsLocked(ctx context.Context, id string) (bool, error)
}

// CertificateRepository reads issued certificates. Certificates are only ever
// written through ReservationTx.InsertCertificate.
type CertificateRepository interface {
	// GetCertificate loads a certificate by UUID.
	GetCertificate(ctx context.Context, uuid string) (*model.Certificate, error)
	// GetCertificateByReservation loads the certificate issued for a reservation.
	GetCertificateByReservation(ctx context.Context, reservationID int64) (*model.Certificate, error)
}
