// Package audit records accepted state transitions out of band.
//
// Recording is fire-and-forget: Record never blocks on the sink and never
// returns an error, so a slow or failing audit backend cannot hold or roll
// back a reservation transaction.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names an audited transition.
type Kind string

const (
	KindCreated    Kind = "reservation.created"
	KindSuperseded Kind = "reservation.superseded"
	KindPromoted   Kind = "reservation.promoted"
	KindCancelled  Kind = "reservation.cancelled"
	KindExpired    Kind = "reservation.expired"
)

// Entry is one audit record.
type Entry struct {
	Kind       Kind
	Actor      string
	Payload    map[string]string
	OccurredAt time.Time
}

// Log accepts audit records.
type Log interface {
	Record(ctx context.Context, kind Kind, actor string, payload map[string]string)
}

// Sink persists entries. Implementations may block.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// ZapSink writes entries to a logger.
type ZapSink struct{ log *zap.Logger }

// NewZapSink returns a sink logging under the "audit" name.
func NewZapSink(log *zap.Logger) *ZapSink { return &ZapSink{log: log.Named("audit")} }

// Write implements Sink.
func (s *ZapSink) Write(_ context.Context, e Entry) error {
	fields := make([]zap.Field, 0, len(e.Payload)+3)
	fields = append(fields,
		zap.String("kind", string(e.Kind)),
		zap.String("actor", e.Actor),
		zap.Time("at", e.OccurredAt),
	)
	for k, v := range e.Payload {
		fields = append(fields, zap.String(k, v))
	}
	s.log.Info("audit", fields...)
	return nil
}

// Recorder queues entries and writes them to a Sink on its own goroutine.
// When the queue is full new entries are dropped and counted.
type Recorder struct {
	sink    Sink
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration

	queue chan Entry
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRecorder starts the writer goroutine. Call Close to drain and stop it.
func NewRecorder(sink Sink, size int, log *zap.Logger) *Recorder {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		sink:    sink,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 5 * time.Second,
		queue:   make(chan Entry, size),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record implements Log.
func (r *Recorder) Record(_ context.Context, kind Kind, actor string, payload map[string]string) {
	e := Entry{Kind: kind, Actor: actor, Payload: payload, OccurredAt: r.now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.dropped++
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped++
		r.log.Warn("audit queue full, entry dropped", zap.String("kind", string(kind)))
	}
}

// Dropped returns how many entries were discarded.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting entries and waits until queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Write(ctx, e); err != nil {
			r.log.Warn("audit write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
		}
		cancel()
	}
}

// Nop discards everything.
type Nop struct{}

// Record implements Log.
func (Nop) Record(context.Context, Kind, string, map[string]string) {}
