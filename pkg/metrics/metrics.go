package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	MessagesIngested   prometheus.Counter
	MessagesDuplicate  prometheus.Counter
	MessagesRejected   prometheus.Counter
	StageDuration      *prometheus.HistogramVec
	StageRetries       *prometheus.CounterVec
	ValidationFailures prometheus.Counter
	DeadLettered       prometheus.Counter
	ResultsPersisted   *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics on the default
// registry. Use New in tests to avoid duplicate registration.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Total number of raw messages accepted as new",
		}),
		MessagesDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_duplicate_total",
			Help:      "Total number of submissions resolved to an existing raw message",
		}),
		MessagesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Total number of malformed ingest requests",
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		StageRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Retry attempts per pipeline stage",
		}, []string{"stage"}),
		ValidationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Raw messages routed to the manual remediation queue",
		}),
		DeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Raw messages moved to the dead letter state",
		}),
		ResultsPersisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_persisted_total",
			Help:      "Results written, by outcome",
		}, []string{"outcome"}),
	}
}

// New returns unregistered metrics for use in tests.
func New(namespace string) *Metrics {
	return &Metrics{
		MessagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_ingested_total",
		}),
		MessagesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_duplicate_total",
		}),
		MessagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_rejected_total",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
		}, []string{"stage"}),
		StageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_retries_total",
		}, []string{"stage"}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "validation_failures_total",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_lettered_total",
		}),
		ResultsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "results_persisted_total",
		}, []string{"outcome"}),
	}
}
