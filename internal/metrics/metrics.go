// Package metrics holds the Prometheus collectors of the reservation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "egi_reservations"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	reservations  *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	notifications *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	sweeps        prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Accepted reservations segmented by decision.",
		}, []string{"decision"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected operations segmented by operation and reason code.",
		}, []string{"op", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Reservation status transitions segmented by target status.",
		}, []string{"status"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificate_verifications_total",
			Help:      "Certificate verifications segmented by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Rank change notifications segmented by kind and outcome.",
		}, []string{"kind", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed lifecycle sweeps.",
		}),
	}
	m.registry.MustRegister(
		m.reservations, m.rejections, m.transitions, m.verifications,
		m.notifications, m.opDuration, m.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Accepted(decision string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(decision).Inc()
}

func (m *Metrics) Rejected(op, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) Transition(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transitions.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) Verified(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) Swept() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}
