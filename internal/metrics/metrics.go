// Package metrics exposes the hub's Prometheus collectors. All methods
// are nil-safe so components can be constructed without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's collectors on a private registry so tests can
// run several hubs in one process without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	openSessions      prometheus.Gauge
	eventsCommitted   prometheus.Counter
	eventsDelivered   prometheus.Counter
	sessionsDropped   prometheus.Counter
	requestsRateLimit prometheus.Counter
}

// New builds and registers the hub collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agenthub_open_sessions",
			Help: "Number of currently open WebSocket sessions.",
		}),
		eventsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_events_committed_total",
			Help: "Events appended to the log since start.",
		}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_events_delivered_total",
			Help: "Event envelopes handed to session buffers.",
		}),
		sessionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_sessions_dropped_total",
			Help: "Sessions closed for backpressure (policy violation).",
		}),
		requestsRateLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_requests_rate_limited_total",
			Help: "HTTP requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.openSessions,
		m.eventsCommitted,
		m.eventsDelivered,
		m.sessionsDropped,
		m.requestsRateLimit,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.openSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.openSessions.Dec()
	}
}

func (m *Metrics) EventsCommitted(n int) {
	if m != nil {
		m.eventsCommitted.Add(float64(n))
	}
}

func (m *Metrics) EventsDelivered(n int) {
	if m != nil {
		m.eventsDelivered.Add(float64(n))
	}
}

func (m *Metrics) SessionDropped() {
	if m != nil {
		m.sessionsDropped.Inc()
	}
}

func (m *Metrics) RequestRateLimited() {
	if m != nil {
		m.requestsRateLimit.Inc()
	}
}
