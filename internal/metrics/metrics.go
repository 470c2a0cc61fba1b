// Package metrics exposes Prometheus metrics for the analysis pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coursecheck"

// Metrics holds all pipeline Prometheus metrics.
type Metrics struct {
	// Queue metrics
	JobsPicked          prometheus.Counter
	JobsSucceeded       prometheus.Counter
	JobsFailed          prometheus.Counter
	JobsSkipped         prometheus.Counter
	StaleLocksReclaimed prometheus.Counter

	// Provider metrics
	ProviderCalls        *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Engine metrics
	AnalysesStarted   prometheus.Counter
	AnalysesByOutcome *prometheus.CounterVec
}

// New registers and returns the pipeline metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		JobsPicked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_picked_total",
			Help:      "Jobs claimed from the queue",
		}),
		JobsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_succeeded_total",
			Help:      "Jobs finished successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs failed terminally",
		}),
		JobsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_skipped_total",
			Help:      "Jobs skipped because content was unchanged",
		}),
		StaleLocksReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_locks_reclaimed_total",
			Help:      "Expired job leases returned to the queue",
		}),
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "LLM provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProviderCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "LLM provider call latency",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		AnalysesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_started_total",
			Help:      "Analyses begun by the engine",
		}),
		AnalysesByOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_finished_total",
			Help:      "Analyses finished by aggregate outcome",
		}, []string{"outcome"}),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
