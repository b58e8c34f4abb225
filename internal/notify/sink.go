package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/autobooknft/egi-reservations/internal/model"
)

// Sink delivers one event. Errors wrapped with retry.RetryableError are
// retried by the Dispatcher; anything else is final.
type Sink interface {
	Deliver(ctx context.Context, ev model.RankChangeEvent) error
}

// LogSink logs events. Used when no webhook is configured.
type LogSink struct{ log *zap.Logger }

// NewLogSink returns a sink logging under the "notify" name.
func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log.Named("notify")} }

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, ev model.RankChangeEvent) error {
	s.log.Info("rank change",
		zap.String("kind", string(ev.Kind)),
		zap.Int64("reservation_id", ev.ReservationID),
		zap.String("egi_id", ev.EGIID),
		zap.String("bidder_id", ev.BidderID),
		zap.Int("new_rank", ev.NewRank),
		zap.String("highest", ev.HighestAmount.String()),
	)
	return nil
}

// WebhookSink POSTs each event as JSON to a fixed URL. 5xx answers and
// transport errors are retryable; other non-2xx answers are not.
type WebhookSink struct {
	url    string
	client *http.Client
	secret string
}

// NewWebhookSink returns a webhook sink. A non-empty secret is sent as a
// bearer token so the receiver can authenticate the caller.
func NewWebhookSink(url, secret string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{url: url, secret: secret, client: &http.Client{Timeout: timeout}}
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, ev model.RankChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%d:%s:%d", ev.ReservationID, ev.Kind, ev.OccurredAt.UnixNano()))
	if s.secret != "" {
		req.Header.Set("Authorization", "Bearer "+s.secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retry.RetryableError(fmt.Errorf("webhook status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
}
