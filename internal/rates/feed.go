package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autobooknft/egi-reservations/internal/errs"
)

// Feed reads rates from an HTTP endpoint answering
// GET <url>?from=EUR&to=ETH with {"rate":"0.00031"}.
// Outbound calls are throttled so a burst of bids cannot flood the provider.
type Feed struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

// NewFeed returns a feed client. rps <= 0 defaults to 5 requests per second,
// burst <= 0 to 1.
func NewFeed(endpoint string, rps float64, burst int, timeout time.Duration, log *zap.Logger) *Feed {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      log,
	}
}

type feedResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// Rate fetches the current rate. Every failure is reported as errs.ErrRateUnavailable.
func (f *Feed) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("%w: throttled: %v", errs.ErrRateUnavailable, err)
	}

	u, err := url.Parse(f.endpoint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", errs.ErrRateUnavailable, err)
	}
	q := u.Query()
	q.Set("from", from)
	q.Set("to", to)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", errs.ErrRateUnavailable, err)
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("rate feed request failed", zap.String("pair", from+"/"+to), zap.Error(err))
		return decimal.Zero, fmt.Errorf("%w: %v", errs.ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.log.Warn("rate feed bad status", zap.String("pair", from+"/"+to), zap.Int("status", resp.StatusCode))
		return decimal.Zero, fmt.Errorf("%w: feed status %d", errs.ErrRateUnavailable, resp.StatusCode)
	}
	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode: %v", errs.ErrRateUnavailable, err)
	}
	f.log.Debug("rate fetched",
		zap.String("pair", from+"/"+to),
		zap.String("rate", body.Rate.String()),
		zap.Duration("dur", time.Since(start)),
	)
	return body.Rate, nil
}
