package summarizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the summarizer's Prometheus collectors.
type Metrics struct {
	Written  *prometheus.CounterVec
	Failures *prometheus.CounterVec
}

// NewMetrics registers the summarizer collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Written: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perftrail_summaries_written_total",
				Help: "Summaries upserted by the summarizer",
			},
			[]string{"kind", "period"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perftrail_summarize_failures_total",
				Help: "Summaries that could not be computed after retries",
			},
			[]string{"kind"},
		),
	}
}
