package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	FocusLost       prometheus.Counter
	AnswersSaved    prometheus.Counter
	Gradings        *prometheus.CounterVec
	GradingDuration prometheus.Histogram
	LockWait        prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intervu",
			Name:      "session_transitions_total",
			Help:      "Accepted session state transitions.",
		}, []string{"to", "reason"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intervu",
			Name:      "session_rejections_total",
			Help:      "Session events rejected, by operation and cause.",
		}, []string{"op", "cause"}),
		FocusLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: "intervu",
			Name:      "focus_lost_reports_total",
			Help:      "Accepted focus-loss reports.",
		}),
		AnswersSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "intervu",
			Name:      "answers_saved_total",
			Help:      "Accepted answer submissions.",
		}),
		Gradings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intervu",
			Name:      "gradings_total",
			Help:      "Grading attempts by outcome (created, existing, failed).",
		}, []string{"outcome"}),
		GradingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intervu",
			Name:      "grading_duration_seconds",
			Help:      "Time spent grading and persisting an evaluation.",
			Buckets:   prometheus.DefBuckets,
		}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intervu",
			Name:      "session_lock_wait_seconds",
			Help:      "Time spent waiting for the per-session lock.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 3},
		}),
		gatherer: reg,
	}
}

// NewNop returns collectors registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
