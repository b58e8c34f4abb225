// Package certificate issues and verifies reservation certificates.
//
// A certificate signs the canonical serialization of a frozen snapshot with an
// HMAC-SHA256 key derived from the server secret. Verification only ever looks
// at the stored bytes, never at live reservation or EGI state.
package certificate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/autobooknft/egi-reservations/internal/model"
)

const (
	keyLen       = 32
	minSecretLen = 16
	hkdfInfo     = "egi-reservation-certificate/v1"
)

// Signer issues and verifies certificates. Safe for concurrent use.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner derives the signing key from secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("certificate secret must be at least %d bytes", minSecretLen)
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive certificate key: %w", err)
	}
	return &Signer{key: key, now: time.Now}, nil
}

// Issue creates a certificate for snap. The snapshot is serialized once and the
// resulting bytes are what gets stored and signed.
func (s *Signer) Issue(snap model.Snapshot) (model.Certificate, error) {
	if snap.ReservationID == 0 {
		return model.Certificate{}, errors.New("snapshot without reservation id")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Certificate{}, err
	}
	blob, err := Canonical(snap)
	if err != nil {
		return model.Certificate{}, err
	}
	return model.Certificate{
		UUID:          id.String(),
		ReservationID: snap.ReservationID,
		Snapshot:      blob,
		SignatureHash: hex.EncodeToString(s.sign(blob)),
		IssuedAt:      s.now().UTC(),
	}, nil
}

// Verify reports whether c still matches its signature. The stored snapshot must
// decode and re-serialize to exactly the stored bytes, and the recomputed HMAC
// must match byte for byte. Anything else is invalid; nothing is repaired.
func (s *Signer) Verify(c model.Certificate) bool {
	snap, err := Decode(c.Snapshot)
	if err != nil {
		return false
	}
	if snap.ReservationID != c.ReservationID {
		return false
	}
	again, err := Canonical(snap)
	if err != nil || !hmac.Equal(again, c.Snapshot) {
		return false
	}
	got, err := hex.DecodeString(c.SignatureHash)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.sign(c.Snapshot))
}

func (s *Signer) sign(blob []byte) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write(blob)
	return m.Sum(nil)
}
