package certificate

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/autobooknft/egi-reservations/internal/model"
)

func sampleSnapshot() model.Snapshot {
	r := model.Reservation{
		ID:             42,
		EGIID:          "egi-1",
		BidderID:       "user-7",
		AuthStrength:   model.AuthStrong,
		OfferFiat:      decimal.RequireFromString("150.5"),
		Currency:       "EUR",
		OfferCrypto:    decimal.RequireFromString("712.123456789"),
		CryptoCurrency: "ALGO",
		Seq:            9,
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	egi := model.EGI{ID: "egi-1", Title: "Sunset <No. 3>", CollectionName: "Florence & Co"}
	return SnapshotOf(r, egi)
}

func newSigner(t *testing.T, secret string) *Signer {
	t.Helper()
	s, err := NewSigner([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestNewSigner_ShortSecret(t *testing.T) {
	t.Parallel()
	_, err := NewSigner([]byte("short"))
	require.Error(t, err)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newSigner(t, "0123456789abcdef-secret")
	c, err := s.Issue(sampleSnapshot())
	require.NoError(t, err)
	require.NotEmpty(t, c.UUID)
	require.Equal(t, int64(42), c.ReservationID)
	require.Len(t, c.SignatureHash, 64)
	require.True(t, s.Verify(c))

	snap, err := Decode(c.Snapshot)
	require.NoError(t, err)
	require.Equal(t, "150.50000000", snap.OfferFiat)
	require.Equal(t, "712.12345679", snap.OfferCrypto)
	require.Equal(t, "2026-03-01T10:00:00Z", snap.CreatedAt)
	require.True(t, bytes.Contains(c.Snapshot, []byte("Sunset <No. 3>")), "no html escaping")
}

func TestCanonical_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := Canonical(sampleSnapshot())
	require.NoError(t, err)
	b, err := Canonical(sampleSnapshot())
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(string(a), `{"v":1,"reservation_id":42,"egi_id":"egi-1"`))
}

func TestVerify_AnySingleByteMutationIsInvalid(t *testing.T) {
	t.Parallel()

	s := newSigner(t, "0123456789abcdef-secret")
	c, err := s.Issue(sampleSnapshot())
	require.NoError(t, err)

	for i := range c.Snapshot {
		mutated := c
		mutated.Snapshot = append([]byte(nil), c.Snapshot...)
		mutated.Snapshot[i] ^= 0x01
		require.False(t, s.Verify(mutated), "byte %d", i)
	}
}

func TestVerify_OtherFailures(t *testing.T) {
	t.Parallel()

	s := newSigner(t, "0123456789abcdef-secret")
	c, err := s.Issue(sampleSnapshot())
	require.NoError(t, err)

	other := newSigner(t, "another-secret-of-enough-length")
	require.False(t, other.Verify(c), "rotated key invalidates")

	badSig := c
	badSig.SignatureHash = strings.Repeat("0", 64)
	require.False(t, s.Verify(badSig))

	notHex := c
	notHex.SignatureHash = "zz"
	require.False(t, s.Verify(notHex))

	wrongRes := c
	wrongRes.ReservationID = 43
	require.False(t, s.Verify(wrongRes))

	padded := c
	padded.Snapshot = append(append([]byte(nil), c.Snapshot...), ' ')
	require.False(t, s.Verify(padded), "non-canonical bytes")
}

func TestIssue_RequiresReservationID(t *testing.T) {
	t.Parallel()

	s := newSigner(t, "0123456789abcdef-secret")
	_, err := s.Issue(model.Snapshot{})
	require.Error(t, err)
}
