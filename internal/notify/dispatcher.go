package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/autobooknft/egi-reservations/internal/metrics"
	"github.com/autobooknft/egi-reservations/internal/model"
)

// Dispatcher queues events and delivers them to every sink on a single
// goroutine, so one bidder's events arrive in commit order. Dispatch never
// blocks: when the queue is full the event is dropped, logged and counted.
type Dispatcher struct {
	sinks      []Sink
	log        *zap.Logger
	metrics    *metrics.Metrics
	newBackoff func() retry.Backoff
	timeout    time.Duration

	queue chan model.RankChangeEvent
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan model.RankChangeEvent, n)
		}
	}
}

// WithBackoff sets the redelivery policy. f is called once per event and sink.
func WithBackoff(f func() retry.Backoff) Option {
	return func(d *Dispatcher) { d.newBackoff = f }
}

// WithMetrics counts deliveries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDeliveryTimeout bounds all attempts of one delivery.
func WithDeliveryTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// DefaultBackoff retries five times starting at 200ms, capped at 5s.
func DefaultBackoff() retry.Backoff {
	b := retry.NewExponential(200 * time.Millisecond)
	b = retry.WithCappedDuration(5*time.Second, b)
	return retry.WithMaxRetries(5, b)
}

// NewDispatcher starts the delivery goroutine. Close drains it.
func NewDispatcher(log *zap.Logger, sinks []Sink, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		sinks:      sinks,
		log:        log.Named("dispatcher"),
		newBackoff: DefaultBackoff,
		timeout:    time.Minute,
		queue:      make(chan model.RankChangeEvent, 1024),
	}
	for _, o := range opts {
		o(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch enqueues events.
func (d *Dispatcher) Dispatch(evs ...model.RankChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range evs {
		if d.closed {
			d.drop(ev, "closed")
			continue
		}
		select {
		case d.queue <- ev:
		default:
			d.drop(ev, "queue full")
		}
	}
}

func (d *Dispatcher) drop(ev model.RankChangeEvent, why string) {
	d.log.Warn("event dropped",
		zap.String("why", why),
		zap.String("kind", string(ev.Kind)),
		zap.Int64("reservation_id", ev.ReservationID),
	)
	d.metrics.Notification(string(ev.Kind), "dropped")
}

// Close stops intake and waits for queued events to be delivered or given up.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, ev)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, ev model.RankChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	attempts := 0
	err := retry.Do(ctx, d.newBackoff(), func(ctx context.Context) error {
		attempts++
		return s.Deliver(ctx, ev)
	})
	if err != nil {
		d.log.Error("event delivery failed",
			zap.String("kind", string(ev.Kind)),
			zap.Int64("reservation_id", ev.ReservationID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		d.metrics.Notification(string(ev.Kind), "failed")
		return
	}
	d.metrics.Notification(string(ev.Kind), "delivered")
}
