// Package sweeper periodically expires stale reservations.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/autobooknft/egi-reservations/internal/clock"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/metrics"
)

// Finder lists EGIs with reservations that may be due.
type Finder interface {
	ExpiryCandidates(ctx context.Context, now, weakCutoff time.Time, limit int) ([]string, error)
}

// Expirer expires the due reservations of one EGI.
type Expirer interface {
	ExpireDue(ctx context.Context, egiID string, weakTTL time.Duration) (int, error)
}

// Config tunes a Sweeper. Zero values fall back to defaults.
type Config struct {
	Interval  time.Duration
	WeakTTL   time.Duration
	BatchSize int
	// Attempts bounds the retries of one EGI while its section is busy.
	Attempts uint64
	Backoff  time.Duration
}

const (
	defaultInterval  = time.Minute
	defaultBatchSize = 100
	defaultAttempts  = 5
	defaultBackoff   = 100 * time.Millisecond
)

// Sweeper expires weak reservations past their TTL and all standing
// reservations on EGIs whose mint window has closed.
type Sweeper struct {
	finder  Finder
	expirer Expirer
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New constructs a Sweeper.
func New(finder Finder, expirer Expirer, cfg Config, c clock.Clock, m *metrics.Metrics, log *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if c == nil {
		c = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{finder: finder, expirer: expirer, cfg: cfg, clock: c, metrics: m, log: log.Named("sweeper")}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass and returns the number of expired reservations. A
// failure on one EGI does not stop the pass; the first error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.metrics.Swept()
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.WeakTTL)
	if s.cfg.WeakTTL <= 0 {
		// weak TTL disabled: only closed windows are due
		cutoff = time.Time{}
	}
	ids, err := s.finder.ExpiryCandidates(ctx, now, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var (
		total    int
		firstErr error
	)
	for _, id := range ids {
		n, err := s.expire(ctx, id)
		total += n
		if err != nil {
			s.log.Warn("expire egi", zap.String("egi_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		s.log.Info("sweep done", zap.Int("egis", len(ids)), zap.Int("expired", total))
	}
	return total, firstErr
}

func (s *Sweeper) expire(ctx context.Context, egiID string) (int, error) {
	b := retry.WithMaxRetries(s.cfg.Attempts, retry.NewExponential(s.cfg.Backoff))
	var n int
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		n, err = s.expirer.ExpireDue(ctx, egiID, s.cfg.WeakTTL)
		if errors.Is(err, errs.ErrBusy) {
			return retry.RetryableError(err)
		}
		return err
	})
	return n, err
}
