// Package metrics holds the Prometheus metrics for mailcast.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. It is constructed once at startup
// and passed to the components that record into it; there is no ambient
// global registry.
type Metrics struct {
	// Broadcast counters
	BroadcastsTotal  *prometheus.CounterVec // labels: outcome (sent, failed, rejected)
	EmailsDispatched prometheus.Counter

	// Webhook counters
	WebhookEventsTotal *prometheus.CounterVec // labels: type, outcome

	// Unsubscribe counter
	UnsubscribesTotal prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal       *prometheus.CounterVec // labels: method, path, status
	HTTPRequestDurationSecs *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_broadcasts_total",
				Help: "Total number of broadcast requests by outcome",
			},
			[]string{"outcome"},
		),
		EmailsDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailcast_emails_dispatched_total",
				Help: "Total number of recipient addresses handed to the provider",
			},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_webhook_events_total",
				Help: "Total number of provider webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		UnsubscribesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailcast_unsubscribes_total",
				Help: "Total number of completed unsubscribe actions",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSecs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailcast_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.BroadcastsTotal,
		m.EmailsDispatched,
		m.WebhookEventsTotal,
		m.UnsubscribesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSecs,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
