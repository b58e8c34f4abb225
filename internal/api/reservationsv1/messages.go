// Package reservationsv1 defines the wire contract of the
// egi.reservations.v1.Reservations gRPC service. Messages travel as JSON
// through the codec registered by this package. Amounts are decimal strings.
package reservationsv1

import (
	"encoding/json"
	"time"
)

// Reservation is a reservation as seen by clients.
type Reservation struct {
	ID             int64     `json:"id"`
	EGIID          string    `json:"egi_id"`
	BidderID       string    `json:"bidder_id"`
	AuthStrength   string    `json:"auth_strength"`
	OfferFiat      string    `json:"offer_fiat"`
	Currency       string    `json:"currency"`
	OfferCrypto    string    `json:"offer_crypto"`
	CryptoCurrency string    `json:"crypto_currency"`
	Status         string    `json:"status"`
	IsCurrent      bool      `json:"is_current"`
	SupersededByID int64     `json:"superseded_by_id,omitempty"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Certificate carries the signed snapshot verbatim.
type Certificate struct {
	UUID          string          `json:"uuid"`
	ReservationID int64           `json:"reservation_id"`
	Snapshot      json.RawMessage `json:"snapshot"`
	SignatureHash string          `json:"signature_hash"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// Snapshot is the decoded certificate data, frozen at issuance.
type Snapshot struct {
	Version        int    `json:"v"`
	ReservationID  int64  `json:"reservation_id"`
	EGIID          string `json:"egi_id"`
	EGITitle       string `json:"egi_title"`
	CollectionName string `json:"collection_name"`
	BidderRef      string `json:"bidder_ref"`
	AuthStrength   string `json:"auth_strength"`
	OfferFiat      string `json:"offer_fiat"`
	Currency       string `json:"currency"`
	OfferCrypto    string `json:"offer_crypto"`
	CryptoCurrency string `json:"crypto_currency"`
	Seq            int64  `json:"seq"`
	CreatedAt      string `json:"created_at"`
}

// LiveFacts are read from current state at verification time.
type LiveFacts struct {
	ReservationStatus string `json:"reservation_status,omitempty"`
	IsCurrentHighest  bool   `json:"is_current_highest"`
	EGIUnminted       bool   `json:"egi_unminted"`
}

type CreateReservationRequest struct {
	EGIID     string `json:"egi_id"`
	OfferFiat string `json:"offer_fiat"`
	Currency  string `json:"currency"`
}

type CreateReservationResponse struct {
	// Decision is "highest" or "queued".
	Decision    string      `json:"decision"`
	Reservation Reservation `json:"reservation"`
	Certificate Certificate `json:"certificate"`
}

type CancelReservationRequest struct {
	ReservationID int64 `json:"reservation_id"`
}

type CancelReservationResponse struct{}

type VerifyCertificateRequest struct {
	UUID string `json:"uuid"`
}

type VerifyCertificateResponse struct {
	UUID     string    `json:"uuid"`
	Valid    bool      `json:"valid"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Live     LiveFacts `json:"live"`
}

type GetReservationStatusRequest struct {
	EGIID string `json:"egi_id"`
}

type GetReservationStatusResponse struct {
	Reservation   Reservation `json:"reservation"`
	Rank          int         `json:"rank"`
	Standing      int         `json:"standing"`
	HighestAmount string      `json:"highest_amount"`
	Currency      string      `json:"currency"`
}

type ListReservationsRequest struct {
	EGIID string `json:"egi_id"`
}

type ListReservationsResponse struct {
	Reservations []Reservation `json:"reservations"`
}
