package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runs           *prometheus.CounterVec
	records        *prometheus.CounterVec
	loadDuration   *prometheus.HistogramVec
	recoverySweeps *prometheus.CounterVec
	aggregations   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "media_etl",
				Name:      "runs_total",
				Help:      "Ingestion runs by source and terminal status.",
			},
			[]string{"source", "status"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "media_etl",
				Name:      "records_total",
				Help:      "Records processed by source and outcome (loaded, failed, invalid).",
			},
			[]string{"source", "outcome"},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "media_etl",
				Name:      "load_duration_seconds",
				Help:      "Wall time to process one batch.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		),
		recoverySweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "media_etl",
				Name:      "recovery_sweeps_total",
				Help:      "Recovery sweeps by outcome.",
			},
			[]string{"outcome"},
		),
		aggregations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "media_etl",
				Name:      "aggregations_total",
				Help:      "Summary aggregations by period and outcome.",
			},
			[]string{"period", "outcome"},
		),
	}
	reg.MustRegister(m.runs, m.records, m.loadDuration, m.recoverySweeps, m.aggregations)
	return m
}

// ObserveRun records one finished batch.
func (m *Metrics) ObserveRun(source, status string, loaded, failed, invalid int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(source, status).Inc()
	m.records.WithLabelValues(source, "loaded").Add(float64(loaded))
	m.records.WithLabelValues(source, "failed").Add(float64(failed))
	m.records.WithLabelValues(source, "invalid").Add(float64(invalid))
	m.loadDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveSweep records one recovery sweep outcome.
func (m *Metrics) ObserveSweep(outcome string) {
	if m == nil {
		return
	}
	m.recoverySweeps.WithLabelValues(outcome).Inc()
}

// ObserveAggregation records one summary computation.
func (m *Metrics) ObserveAggregation(period, outcome string) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(period, outcome).Inc()
}
