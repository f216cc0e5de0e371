// Package metrics holds the Prometheus collectors exported by the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fulfillment"

// Metrics groups every collector. The zero value is not usable; use New.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	reservations  *prometheus.CounterVec
	verifications *prometheus.CounterVec
	transitions   *prometheus.CounterVec

	subscribers prometheus.Gauge
	published   prometheus.Counter
	replaced    prometheus.Counter
}

// New builds the collectors on a private registry, together with Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route template, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "reservations_total",
			Help: "Order reservation attempts by outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "credential", Name: "verifications_total",
			Help: "One-time code verifications by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "transitions_total",
			Help: "Applied order status transitions by target status.",
		}, []string{"status"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tracking", Name: "subscribers",
			Help: "Registered location subscriptions.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tracking", Name: "updates_total",
			Help: "Location updates published.",
		}),
		replaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tracking", Name: "replaced_total",
			Help: "Unread positions overwritten by a newer one.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.reservations, m.verifications, m.transitions,
		m.subscribers, m.published, m.replaced,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one finished request. route must be the pattern, not the raw path.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Reservation counts an order reservation outcome: "ok", "insufficient", "not_found" or "error".
func (m *Metrics) Reservation(outcome string) {
	m.reservations.WithLabelValues(outcome).Inc()
}

// Verification counts a one-time code check.
func (m *Metrics) Verification(purpose, outcome string) {
	m.verifications.WithLabelValues(purpose, outcome).Inc()
}

// Transition counts an applied status change.
func (m *Metrics) Transition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

// Subscribers implements tracking.Stats.
func (m *Metrics) Subscribers(n int) { m.subscribers.Set(float64(n)) }

// Published implements tracking.Stats.
func (m *Metrics) Published() { m.published.Inc() }

// Replaced implements tracking.Stats.
func (m *Metrics) Replaced() { m.replaced.Inc() }
