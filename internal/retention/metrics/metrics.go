package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for retention cleanup.
type Metrics struct {
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	Records     *prometheus.CounterVec
	LastSuccess prometheus.Gauge
}

// New registers the retention metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_retention_runs_total",
			Help: "Retention cleanup runs by outcome",
		}, []string{"outcome"}), // outcome: "completed", "partial", "failed", "locked", "dry_run"
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmaudit_retention_run_duration_seconds",
			Help:    "Wall time of one retention cleanup run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_retention_records_total",
			Help: "Records processed by retention cleanup",
		}, []string{"kind", "action"}), // action: "archive", "purge", "failed"
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "pharmaudit_retention_last_success_timestamp_seconds",
			Help: "Unix time of the last cleanup that completed without failures",
		}),
	}
}

func (m *Metrics) ObserveRun(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(time.Since(started).Seconds())
	if outcome == "completed" {
		m.LastSuccess.SetToCurrentTime()
	}
}

func (m *Metrics) IncrementRun(outcome string) {
	if m != nil {
		m.Runs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddRecords(kind, action string, n int) {
	if m != nil && n > 0 {
		m.Records.WithLabelValues(kind, action).Add(float64(n))
	}
}
