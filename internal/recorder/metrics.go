package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the recorder's Prometheus collectors.
type Metrics struct {
	TracesRecorded         *prometheus.CounterVec
	TraceDuration          *prometheus.HistogramVec
	OperationsDropped      prometheus.Counter
	InstrumentationFailure *prometheus.CounterVec
}

// NewMetrics registers the recorder collectors on reg. A nil reg yields
// collectors that are never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		TracesRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perftrail_traces_recorded_total",
				Help: "Total number of trace roots persisted",
			},
			[]string{"kind", "status"},
		),
		TraceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perftrail_trace_duration_seconds",
				Help:    "Duration of traced units",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		OperationsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "perftrail_operations_dropped_total",
				Help: "Operations discarded because a trace hit its operation cap",
			},
		),
		InstrumentationFailure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perftrail_instrumentation_failures_total",
				Help: "Recorder faults that were logged and swallowed",
			},
			[]string{"reason"},
		),
	}
}
