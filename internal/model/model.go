// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuthStrength is how strongly a bidder identity is backed.
type AuthStrength string

const (
	// AuthWeak is a bidder known only by a wallet session.
	AuthWeak AuthStrength = "weak"
	// AuthStrong is a fully authenticated account.
	AuthStrong AuthStrength = "strong"
)

// Valid reports whether s is one of the two known strengths.
func (s AuthStrength) Valid() bool { return s == AuthWeak || s == AuthStrong }

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusActive     Status = "active"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusSuperseded Status = "superseded"
)

// Standing reports whether a reservation in this status still competes for the EGI.
// Superseded reservations stay eligible for promotion when the current one goes away.
func (s Status) Standing() bool { return s == StatusActive || s == StatusSuperseded }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCancelled || s == StatusExpired }

// Bidder is a resolved caller identity.
type Bidder struct {
	ID       string
	Strength AuthStrength
}

// EGI is the reservable asset, as seen by the reservation engine (read-only).
type EGI struct {
	ID                 string
	CollectionID       string
	Title              string
	CollectionName     string
	MintLocked         bool
	MintWindowClosesAt *time.Time // nil while the pre-mint window is open-ended
}

// WindowClosed reports whether the pre-mint window has closed at now.
func (e EGI) WindowClosed(now time.Time) bool {
	return e.MintWindowClosesAt != nil && !now.Before(*e.MintWindowClosesAt)
}

// Reservation is a bidder's claim attempt on one EGI.
type Reservation struct {
	ID             int64 // assigned by the store, monotonic
	EGIID          string
	BidderID       string
	AuthStrength   AuthStrength
	OfferFiat      decimal.Decimal
	Currency       string
	OfferCrypto    decimal.Decimal // frozen at creation, never recomputed
	CryptoCurrency string
	Status         Status
	IsCurrent      bool
	SupersededByID *int64
	Seq            int64     // logical creation order
	CreatedAt      time.Time // wall clock, TTL only
	UpdatedAt      time.Time
}

// Certificate is the immutable attestation issued for an accepted reservation.
type Certificate struct {
	UUID          string
	ReservationID int64
	Snapshot      []byte // canonical serialization, stored as an opaque blob
	SignatureHash string // hex HMAC over Snapshot
	IssuedAt      time.Time
}

// Snapshot is the frozen data a certificate attests to. Field order is the
// canonical serialization order and must not change for a given Version.
type Snapshot struct {
	Version        int          `json:"v"`
	ReservationID  int64        `json:"reservation_id"`
	EGIID          string       `json:"egi_id"`
	EGITitle       string       `json:"egi_title"`
	CollectionName string       `json:"collection_name"`
	BidderRef      string       `json:"bidder_ref"`
	AuthStrength   AuthStrength `json:"auth_strength"`
	OfferFiat      string       `json:"offer_fiat"`
	Currency       string       `json:"currency"`
	OfferCrypto    string       `json:"offer_crypto"`
	CryptoCurrency string       `json:"crypto_currency"`
	Seq            int64        `json:"seq"`
	CreatedAt      string       `json:"created_at"`
}

// EventKind enumerates rank change notifications.
type EventKind string

const (
	EventPromoted    EventKind = "promoted_to_highest"
	EventSuperseded  EventKind = "superseded"
	EventRankChanged EventKind = "rank_changed"
	EventExpired     EventKind = "expired"
)

// RankChangeEvent is addressed to exactly one bidder. Not persisted.
type RankChangeEvent struct {
	ReservationID int64           `json:"reservation_id"`
	EGIID         string          `json:"egi_id"`
	BidderID      string          `json:"bidder_id"`
	Kind          EventKind       `json:"kind"`
	NewRank       int             `json:"new_rank,omitempty"`
	HighestAmount decimal.Decimal `json:"highest_amount"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// RankInfo is a bidder's live position on one EGI.
type RankInfo struct {
	Reservation   Reservation
	Rank          int // 1 = current; 0 when the reservation no longer stands
	Standing      int // number of standing reservations on the EGI
	HighestAmount decimal.Decimal
	Currency      string
}

// VerificationResult mixes frozen snapshot data with live facts. The two are kept
// in separate fields so callers can always tell which source a value comes from.
type VerificationResult struct {
	UUID     string
	Valid    bool
	Snapshot *Snapshot // frozen at issuance; nil when the blob cannot be decoded
	Live     LiveFacts
}

// LiveFacts are read from current state at verification time.
type LiveFacts struct {
	ReservationStatus Status
	IsCurrentHighest  bool
	EGIUnminted       bool
}
