package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit recorder.
type Metrics struct {
	EventsRecorded      *prometheus.CounterVec
	RecordDuration      prometheus.Histogram
	PersistFailures     prometheus.Counter
	Verifications       *prometheus.CounterVec
	IntegrityMismatches prometheus.Counter
}

// New registers the audit metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_audit_events_recorded_total",
			Help: "Total audit events persisted by risk level",
		}, []string{"risk_level"}),
		RecordDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmaudit_audit_record_duration_seconds",
			Help:    "Duration of recording one audit event including persistence",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmaudit_audit_persist_failures_total",
			Help: "Total audit events that could not be persisted",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_audit_verifications_total",
			Help: "Total checksum verifications by outcome",
		}, []string{"outcome"}), // outcome: "valid", "mismatch"
		IntegrityMismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmaudit_audit_integrity_mismatches_total",
			Help: "Total audit events whose stored checksum did not match",
		}),
	}
}

func (m *Metrics) IncrementRecorded(riskLevel string) {
	if m != nil {
		m.EventsRecorded.WithLabelValues(riskLevel).Inc()
	}
}

func (m *Metrics) ObserveRecord(start time.Time) {
	if m != nil {
		m.RecordDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncrementPersistFailure() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) IncrementVerification(valid bool) {
	if m == nil {
		return
	}
	if valid {
		m.Verifications.WithLabelValues("valid").Inc()
		return
	}
	m.Verifications.WithLabelValues("mismatch").Inc()
	m.IntegrityMismatches.Inc()
}
