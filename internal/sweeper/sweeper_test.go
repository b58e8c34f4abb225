package sweeper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/autobooknft/egi-reservations/internal/certificate"
	"github.com/autobooknft/egi-reservations/internal/clock"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/metrics"
	"github.com/autobooknft/egi-reservations/internal/model"
	"github.com/autobooknft/egi-reservations/internal/rates"
	"github.com/autobooknft/egi-reservations/internal/repository/memory"
	"github.com/autobooknft/egi-reservations/internal/service"
)

type fakeFinder struct {
	ids    []string
	err    error
	cutoff time.Time
}

func (f *fakeFinder) ExpiryCandidates(_ context.Context, _, weakCutoff time.Time, _ int) ([]string, error) {
	f.cutoff = weakCutoff
	return f.ids, f.err
}

type fakeExpirer struct {
	mu    sync.Mutex
	busy  map[string]int // remaining ErrBusy answers per EGI
	fail  map[string]error
	calls map[string]int
}

func (f *fakeExpirer) ExpireDue(_ context.Context, egiID string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[egiID]++
	if f.busy[egiID] > 0 {
		f.busy[egiID]--
		return 0, errs.ErrBusy
	}
	if err := f.fail[egiID]; err != nil {
		return 0, err
	}
	return 1, nil
}

func TestSweep_RetriesBusyAndContinuesPastFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	f := &fakeFinder{ids: []string{"a", "b", "c"}}
	e := &fakeExpirer{busy: map[string]int{"a": 2}, fail: map[string]error{"b": boom}}
	m := metrics.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := New(f, e, Config{WeakTTL: time.Hour, Backoff: time.Millisecond}, clock.NewManual(now), m, zaptest.NewLogger(t))

	n, err := s.Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, n)
	require.Equal(t, 3, e.calls["a"])
	require.Equal(t, 1, e.calls["b"])
	require.Equal(t, 1, e.calls["c"])
	require.Equal(t, now.Add(-time.Hour), f.cutoff)
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP egi_reservations_sweeps_total Completed lifecycle sweeps.
# TYPE egi_reservations_sweeps_total counter
egi_reservations_sweeps_total 1
`), "egi_reservations_sweeps_total"))
}

func TestSweep_GivesUpWhenAlwaysBusy(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{ids: []string{"a"}}
	e := &fakeExpirer{busy: map[string]int{"a": 100}}
	s := New(f, e, Config{Attempts: 2, Backoff: time.Millisecond}, nil, nil, nil)

	_, err := s.Sweep(context.Background())
	require.ErrorIs(t, err, errs.ErrBusy)
	require.Equal(t, 3, e.calls["a"])
	require.True(t, f.cutoff.IsZero(), "no weak TTL means no weak cutoff")
}

func TestSweep_FinderError(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{err: errors.New("db down")}
	s := New(f, &fakeExpirer{}, Config{}, nil, nil, nil)
	_, err := s.Sweep(context.Background())
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{}
	s := New(f, &fakeExpirer{}, Config{Interval: time.Millisecond}, nil, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSweep_WithService(t *testing.T) {
	t.Parallel()

	store := memory.New()
	store.PutEGI(model.EGI{ID: "E1", Title: "One"})
	store.PutEGI(model.EGI{ID: "E2", Title: "Two"})
	signer, err := certificate.NewSigner([]byte("0123456789abcdef-sweeper"))
	require.NoError(t, err)
	clk := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := service.New(store, store, rates.NewConverter(rates.Static{"EUR/ETH": decimal.NewFromInt(1)}), signer, service.WithClock(clk))

	create := func(egi string, b model.Bidder) {
		_, _, err := svc.CreateReservation(context.Background(), service.CreateInput{
			EGIID: egi, Bidder: b, OfferFiat: decimal.NewFromInt(10), Currency: "EUR",
		})
		require.NoError(t, err)
	}
	create("E1", model.Bidder{ID: "wallet:a", Strength: model.AuthWeak})
	create("E2", model.Bidder{ID: "wallet:b", Strength: model.AuthWeak})
	require.NoError(t, store.SetMintLocked("E2", true))
	create("E1", model.Bidder{ID: "user:c", Strength: model.AuthStrong})

	clk.Advance(48 * time.Hour)
	s := New(store, svc, Config{WeakTTL: 24 * time.Hour}, clk, nil, zaptest.NewLogger(t))
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "weak bid on the locked EGI stays")

	all, err := store.ListByEGI(context.Background(), "E2")
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, all[0].Status)
}
