// Package convert maps domain types to and from the wire messages of the
// reservations API.
package convert

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	v1 "github.com/autobooknft/egi-reservations/internal/api/reservationsv1"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/model"
)

// --- helpers ---

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// --- client -> server ---

// FromAPIOffer parses a decimal offer amount.
func FromAPIOffer(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty offer", errs.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", errs.ErrInvalidAmount, s)
	}
	return d, nil
}

// --- server -> client ---

// ToAPIReservation converts a domain reservation.
func ToAPIReservation(r model.Reservation) v1.Reservation {
	out := v1.Reservation{
		ID:             r.ID,
		EGIID:          r.EGIID,
		BidderID:       r.BidderID,
		AuthStrength:   string(r.AuthStrength),
		OfferFiat:      r.OfferFiat.String(),
		Currency:       r.Currency,
		OfferCrypto:    r.OfferCrypto.String(),
		CryptoCurrency: r.CryptoCurrency,
		Status:         string(r.Status),
		IsCurrent:      r.IsCurrent,
		Seq:            r.Seq,
		CreatedAt:      utc(r.CreatedAt),
		UpdatedAt:      utc(r.UpdatedAt),
	}
	if r.SupersededByID != nil {
		out.SupersededByID = *r.SupersededByID
	}
	return out
}

// ToAPIReservations converts a slice of reservations, never returning nil.
func ToAPIReservations(rs []model.Reservation) []v1.Reservation {
	out := make([]v1.Reservation, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToAPIReservation(r))
	}
	return out
}

// ToAPICertificate converts a certificate. The snapshot bytes are passed
// through untouched so clients can verify them.
func ToAPICertificate(c model.Certificate) v1.Certificate {
	return v1.Certificate{
		UUID:          c.UUID,
		ReservationID: c.ReservationID,
		Snapshot:      append([]byte(nil), c.Snapshot...),
		SignatureHash: c.SignatureHash,
		IssuedAt:      utc(c.IssuedAt),
	}
}

// ToAPICreateResponse builds the CreateReservation answer.
func ToAPICreateResponse(r model.Reservation, c model.Certificate) *v1.CreateReservationResponse {
	decision := "queued"
	if r.IsCurrent {
		decision = "highest"
	}
	return &v1.CreateReservationResponse{
		Decision:    decision,
		Reservation: ToAPIReservation(r),
		Certificate: ToAPICertificate(c),
	}
}

// ToAPISnapshot converts a decoded snapshot; nil stays nil.
func ToAPISnapshot(s *model.Snapshot) *v1.Snapshot {
	if s == nil {
		return nil
	}
	return &v1.Snapshot{
		Version:        s.Version,
		ReservationID:  s.ReservationID,
		EGIID:          s.EGIID,
		EGITitle:       s.EGITitle,
		CollectionName: s.CollectionName,
		BidderRef:      s.BidderRef,
		AuthStrength:   string(s.AuthStrength),
		OfferFiat:      s.OfferFiat,
		Currency:       s.Currency,
		OfferCrypto:    s.OfferCrypto,
		CryptoCurrency: s.CryptoCurrency,
		Seq:            s.Seq,
		CreatedAt:      s.CreatedAt,
	}
}

// ToAPIVerification converts a verification result.
func ToAPIVerification(v model.VerificationResult) *v1.VerifyCertificateResponse {
	return &v1.VerifyCertificateResponse{
		UUID:     v.UUID,
		Valid:    v.Valid,
		Snapshot: ToAPISnapshot(v.Snapshot),
		Live: v1.LiveFacts{
			ReservationStatus: string(v.Live.ReservationStatus),
			IsCurrentHighest:  v.Live.IsCurrentHighest,
			EGIUnminted:       v.Live.EGIUnminted,
		},
	}
}

// ToAPIRankInfo converts a bidder's rank.
func ToAPIRankInfo(info model.RankInfo) *v1.GetReservationStatusResponse {
	return &v1.GetReservationStatusResponse{
		Reservation:   ToAPIReservation(info.Reservation),
		Rank:          info.Rank,
		Standing:      info.Standing,
		HighestAmount: info.HighestAmount.String(),
		Currency:      info.Currency,
	}
}
