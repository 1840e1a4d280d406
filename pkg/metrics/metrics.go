package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Coordination metrics
	RequestsSubmitted *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	ActiveRequests    prometheus.Gauge
	IdempotentReplays prometheus.Counter

	// Hub metrics
	EventsPublished   *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter
	Resyncs           *prometheus.CounterVec
	ConnectedSessions prometheus.Gauge

	// Relay metrics
	RelayEventsProcessed prometheus.Counter
	RelayFailures        *prometheus.CounterVec
	RelayLatency         prometheus.Histogram

	// Alert metrics
	AlertsSent   prometheus.Counter
	AlertsFailed prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all application metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordination",
			Name:      "requests_submitted_total",
			Help:      "Total number of submitted nurse-call requests",
		}, []string{"priority"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordination",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by kind and result",
		}, []string{"transition", "result"}),
		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordination",
			Name:      "active_requests",
			Help:      "Current number of pending or assigned requests",
		}),
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordination",
			Name:      "idempotent_replays_total",
			Help:      "Submissions answered from the idempotency cache",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_published_total",
			Help:      "Total number of events published to viewer sessions",
		}, []string{"kind"}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "delivery_failures_total",
			Help:      "Sessions dropped because they could not keep up",
		}),
		Resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "resyncs_total",
			Help:      "Resync requests by outcome",
		}, []string{"outcome"}),
		ConnectedSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connected_sessions",
			Help:      "Current number of connected viewer sessions",
		}),

		RelayEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_processed_total",
			Help:      "Total number of events archived and forwarded",
		}),
		RelayFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Relay failures by sink",
		}, []string{"sink"}),
		RelayLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "processing_duration_seconds",
			Help:      "Time spent relaying one event",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		AlertsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "sent_total",
			Help:      "Alert emails sent",
		}),
		AlertsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "failed_total",
			Help:      "Alert emails that could not be sent",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// New registers with a private registry. Useful for tests and tools that
// never expose /metrics.
func New(namespace string) *Metrics {
	return NewMetrics(namespace, prometheus.NewRegistry())
}
