package certificate

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/autobooknft/egi-reservations/internal/model"
)

// SnapshotVersion is bumped whenever the canonical layout changes.
const SnapshotVersion = 1

// amountPlaces fixes numeric formatting in the canonical form.
const amountPlaces = 8

// SnapshotOf freezes the certificate data for r. Values are copied, so later
// EGI or reservation changes cannot alter an issued certificate.
func SnapshotOf(r model.Reservation, egi model.EGI) model.Snapshot {
	return model.Snapshot{
		Version:        SnapshotVersion,
		ReservationID:  r.ID,
		EGIID:          r.EGIID,
		EGITitle:       egi.Title,
		CollectionName: egi.CollectionName,
		BidderRef:      r.BidderID,
		AuthStrength:   r.AuthStrength,
		OfferFiat:      r.OfferFiat.StringFixed(amountPlaces),
		Currency:       r.Currency,
		OfferCrypto:    r.OfferCrypto.StringFixed(amountPlaces),
		CryptoCurrency: r.CryptoCurrency,
		Seq:            r.Seq,
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Canonical serializes snap as compact JSON in struct field order, without HTML
// escaping and without a trailing newline.
func Canonical(snap model.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a stored snapshot blob strictly.
func Decode(blob []byte) (model.Snapshot, error) {
	var snap model.Snapshot
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}
