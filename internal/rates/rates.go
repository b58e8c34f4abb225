// Package rates converts fiat offers to their crypto equivalent.
//
// A Converter multiplies by the rate a Source reports. Sources are a static
// table, an HTTP rate feed, and a TTL cache in front of either.
package rates

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/autobooknft/egi-reservations/internal/errs"
)

// CryptoPlaces is the precision crypto amounts are rounded to.
const CryptoPlaces = 8

// Converter turns a fiat amount into a crypto amount at call time.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// Source reports how many units of to one unit of from buys.
type Source interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// SourceConverter applies the rate of a Source.
type SourceConverter struct{ src Source }

// NewConverter wraps src.
func NewConverter(src Source) *SourceConverter { return &SourceConverter{src: src} }

// Convert fails with errs.ErrRateUnavailable when no positive rate is known.
func (c *SourceConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = pairKey(from, to)
	rate, err := c.src.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %s for %s/%s", errs.ErrRateUnavailable, rate, from, to)
	}
	return amount.Mul(rate).Round(CryptoPlaces), nil
}

func pairKey(from, to string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
}

// Static is a fixed rate table keyed by "FROM/TO".
type Static map[string]decimal.Decimal

// ParseStatic builds a table from string rates, as found in config files.
func ParseStatic(in map[string]string) (Static, error) {
	out := make(Static, len(in))
	for pair, v := range in {
		from, to, ok := strings.Cut(pair, "/")
		if !ok {
			return nil, fmt.Errorf("rate pair %q: want FROM/TO", pair)
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("rate %q: %w", pair, err)
		}
		f, t := pairKey(from, to)
		out[f+"/"+t] = d
	}
	return out, nil
}

// Rate looks the pair up.
func (s Static) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	r, ok := s[from+"/"+to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s/%s", errs.ErrRateUnavailable, from, to)
	}
	return r, nil
}
