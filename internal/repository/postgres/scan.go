package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/autobooknft/egi-reservations/internal/model"
)

// reservationCols is the column list every reservation read selects, in scan order.
const reservationCols = `id, egi_id, bidder_id, auth_strength, offer_fiat::text, currency, offer_crypto::text, crypto_currency, status, is_current, superseded_by_id, seq, created_at, updated_at`

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var (
		r                 model.Reservation
		strength, status  string
		fiatStr, cryptStr string
	)
	err := row.Scan(
		&r.ID, &r.EGIID, &r.BidderID, &strength,
		&fiatStr, &r.Currency, &cryptStr, &r.CryptoCurrency,
		&status, &r.IsCurrent, &r.SupersededByID, &r.Seq,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	r.AuthStrength = model.AuthStrength(strength)
	r.Status = model.Status(status)
	if r.OfferFiat, err = decimal.NewFromString(fiatStr); err != nil {
		return model.Reservation{}, fmt.Errorf("parse offer_fiat: %w", err)
	}
	if r.OfferCrypto, err = decimal.NewFromString(cryptStr); err != nil {
		return model.Reservation{}, fmt.Errorf("parse offer_crypto: %w", err)
	}
	return r, nil
}

func collectReservations(rows pgx.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
