package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/autobooknft/egi-reservations/internal/model"
)

type fakeSink struct {
	mu       sync.Mutex
	got      []model.RankChangeEvent
	failures int // retryable failures before success
	final    error
	calls    int
}

func (s *fakeSink) Deliver(_ context.Context, ev model.RankChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.final != nil {
		return s.final
	}
	if s.failures > 0 {
		s.failures--
		return retry.RetryableError(errors.New("temporary"))
	}
	s.got = append(s.got, ev)
	return nil
}

func fastBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
}

func TestDispatcher_DeliversInOrderToEverySink(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	d := NewDispatcher(zaptest.NewLogger(t), []Sink{a, b}, WithBackoff(fastBackoff))

	d.Dispatch(
		model.RankChangeEvent{ReservationID: 1, Kind: model.EventSuperseded},
		model.RankChangeEvent{ReservationID: 2, Kind: model.EventPromoted},
	)
	d.Close()

	for _, s := range []*fakeSink{a, b} {
		require.Len(t, s.got, 2)
		require.Equal(t, int64(1), s.got[0].ReservationID)
		require.Equal(t, int64(2), s.got[1].ReservationID)
	}
}

func TestDispatcher_RetriesTemporaryFailures(t *testing.T) {
	s := &fakeSink{failures: 2}
	d := NewDispatcher(zap.NewNop(), []Sink{s}, WithBackoff(fastBackoff))
	d.Dispatch(model.RankChangeEvent{ReservationID: 1, Kind: model.EventExpired})
	d.Close()

	require.Equal(t, 3, s.calls)
	require.Len(t, s.got, 1)
}

func TestDispatcher_GivesUpOnPermanentFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := &fakeSink{final: errors.New("bad request")}
	d := NewDispatcher(zap.New(core), []Sink{s}, WithBackoff(fastBackoff))
	d.Dispatch(model.RankChangeEvent{ReservationID: 1, Kind: model.EventExpired})
	d.Close()

	require.Equal(t, 1, s.calls)
	require.Equal(t, 1, logs.FilterMessage("event delivery failed").Len())
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	s := &fakeSink{}
	d := NewDispatcher(zap.NewNop(), []Sink{s})
	d.Close()
	d.Close()
	d.Dispatch(model.RankChangeEvent{ReservationID: 1})
	require.Empty(t, s.got)
}

func TestWebhookSink(t *testing.T) {
	var hits atomic.Int32
	var got model.RankChangeEvent
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "s3cret", time.Second)
	d := NewDispatcher(zap.NewNop(), []Sink{sink}, WithBackoff(fastBackoff))
	d.Dispatch(model.RankChangeEvent{ReservationID: 9, BidderID: "user:1", Kind: model.EventRankChanged, NewRank: 3})
	d.Close()

	require.EqualValues(t, 2, hits.Load())
	require.Equal(t, "Bearer s3cret", auth)
	require.Equal(t, int64(9), got.ReservationID)
	require.Equal(t, 3, got.NewRank)
}

func TestWebhookSink_ClientErrorIsFinal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(zap.NewNop(), []Sink{NewWebhookSink(srv.URL, "", time.Second)}, WithBackoff(fastBackoff))
	d.Dispatch(model.RankChangeEvent{ReservationID: 1})
	d.Close()
	require.EqualValues(t, 1, hits.Load())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLogSink(zap.New(core)).Deliver(context.Background(), model.RankChangeEvent{Kind: model.EventPromoted}))
	require.Equal(t, 1, logs.FilterMessage("rank change").Len())
}
