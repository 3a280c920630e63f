package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for report generation and review.
type Metrics struct {
	Generations        *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	QueueDepth         prometheus.Gauge
	QueueRejections    prometheus.Counter
	ComplianceScore    *prometheus.GaugeVec
	Reviews            *prometheus.CounterVec
	Distributions      *prometheus.CounterVec
}

// New registers the report metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_report_generations_total",
			Help: "Total report generation runs by report type and terminal status",
		}, []string{"report_type", "status"}), // status: "completed", "failed"
		GenerationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pharmaudit_report_generation_duration_seconds",
			Help:    "Wall time of one report generation run",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"report_type"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "pharmaudit_report_queue_depth",
			Help: "Generation jobs waiting for a worker",
		}),
		QueueRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmaudit_report_queue_rejections_total",
			Help: "Generation requests failed because the queue was full",
		}),
		ComplianceScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pharmaudit_report_last_compliance_score",
			Help: "Compliance score of the most recent completed report per type",
		}, []string{"report_type"}),
		Reviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_report_reviews_total",
			Help: "Total report reviews by outcome",
		}, []string{"outcome"}), // outcome: "approved", "rejected"
		Distributions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_report_distributions_total",
			Help: "Report delivery attempts by status",
		}, []string{"status"}), // status: "sent", "failed"
	}
}

func (m *Metrics) ObserveGeneration(reportType, status string, started time.Time) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(reportType, status).Inc()
	m.GenerationDuration.WithLabelValues(reportType).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SetScore(reportType string, score float64) {
	if m != nil {
		m.ComplianceScore.WithLabelValues(reportType).Set(score)
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) IncrementQueueRejection() {
	if m != nil {
		m.QueueRejections.Inc()
	}
}

func (m *Metrics) IncrementReview(outcome string) {
	if m != nil {
		m.Reviews.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementDistribution(status string) {
	if m != nil {
		m.Distributions.WithLabelValues(status).Inc()
	}
}
