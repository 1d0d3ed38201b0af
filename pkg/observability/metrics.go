package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Prometheus-backed Recorder. Serve it with promhttp against the
// registry it was built with.
type Metrics struct {
	runs       *prometheus.CounterVec
	cacheHits  prometheus.Counter
	duration   *prometheus.HistogramVec
	committed  *prometheus.CounterVec
	lineageOps *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graft_runs_total",
				Help: "Total number of Run calls by outcome",
			},
			[]string{"status"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "graft_cache_hits_total",
				Help: "Runs answered from an existing manifest without executing",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "graft_run_duration_seconds",
				Help: "Wall time of Run calls including staging and commit",
			},
			[]string{"step"},
		),
		committed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graft_store_objects_committed_total",
				Help: "Objects committed to the store by kind",
			},
			[]string{"kind"},
		),
		lineageOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graft_lineage_queries_total",
				Help: "Lineage lookups by operation",
			},
			[]string{"op"},
		),
	}
	reg.MustRegister(m.runs, m.cacheHits, m.duration, m.committed, m.lineageOps)
	return m
}

func (m *Metrics) RunFinished(stepName, status string, seconds float64) {
	m.runs.WithLabelValues(status).Inc()
	if status == StatusCacheHit {
		m.cacheHits.Inc()
	}
	m.duration.WithLabelValues(stepName).Observe(seconds)
}

func (m *Metrics) ObjectCommitted(kind string) {
	m.committed.WithLabelValues(kind).Inc()
}

func (m *Metrics) LineageQuery(op string) {
	m.lineageOps.WithLabelValues(op).Inc()
}
