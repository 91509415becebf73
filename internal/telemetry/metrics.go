// Package telemetry exposes the server's Prometheus metrics: connection and
// request counters, and a request-duration histogram. It is intentionally
// small, using prometheus/client_golang directly rather than a wrapper
// abstraction, since the server has exactly one registry's worth of
// instrumentation to expose.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the server updates over its
// lifetime. The zero value is not usable; construct with New.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RateLimited       prometheus.Counter
}

// New constructs a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httploop_connections_total",
			Help: "Total number of accepted connections.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httploop_connections_active",
			Help: "Number of connections currently open.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httploop_requests_total",
			Help: "Total number of requests dispatched, by method and status class.",
		}, []string{"method", "status_class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httploop_request_duration_seconds",
			Help:    "Request handling latency, from dispatch to response flush.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httploop_rate_limited_total",
			Help: "Total number of connections rejected by the accept-time rate limiter.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsTotal,
		m.ConnectionsActive,
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimited,
	)

	return m
}

// ObserveRequest records the outcome of one request for the duration and
// counter metrics.
func (m *Metrics) ObserveRequest(method string, status int, started time.Time) {
	m.RequestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
	m.RequestsTotal.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
