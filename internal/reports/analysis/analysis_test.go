package analysis

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaudit/internal/audit/checksum"
	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
)

var noon = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func event(eventType string, mutate ...func(*auditmodels.AuditEvent)) *auditmodels.AuditEvent {
	e := &auditmodels.AuditEvent{
		ID:                 id.NewEventID(),
		EventType:          eventType,
		Actor:              &auditmodels.Actor{UserID: "u1", Name: "Pat"},
		RiskLevel:          auditmodels.RiskLow,
		DataClassification: auditmodels.ClassInternal,
		AccessGranted:      true,
		RequiresRetention:  true,
		RetentionYears:     7,
		CreatedAt:          noon,
	}
	for _, m := range mutate {
		m(e)
	}
	return e
}

func run(t *testing.T, reportType string, events ...*auditmodels.AuditEvent) Outcome {
	t.Helper()
	a, ok := NewRegistry().Lookup(reportType)
	require.True(t, ok, "analyzer %s", reportType)
	s := Start(a, DefaultConfig())
	for _, e := range events {
		if a.Predicate().Narrow(auditmodels.EventFilter{IncludeArchived: true}).Matches(e) {
			s.Observe(e)
		}
	}
	return s.Finish(DefaultWeights())
}

func categories(fs []models.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Category)
	}
	return out
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.ElementsMatch(t, []string{
		models.TypeHIPAAAccess, models.TypeDEAControlledSubstances, models.TypePCICompliance,
		models.TypeAuditTrail, models.TypeDataRetention, models.TypeUserAccess,
		models.TypeSecurityIncidents, models.TypeFailedLogins, models.TypeDataExports,
		models.TypePrescriptionMonitoring,
	}, r.Types())

	_, ok := r.Lookup("sox_controls")
	assert.False(t, ok)

	r.Register("sox_controls", analyzer{"SOX", auditmodels.EventFilter{FinancialOnly: true}, newPCIPass})
	a, ok := r.Lookup("sox_controls")
	require.True(t, ok)
	assert.Equal(t, "SOX", a.Framework())
}

func TestDEAIncludesControlledDispensing(t *testing.T) {
	dispensed := event(auditmodels.EventPrescriptionDispensed, func(e *auditmodels.AuditEvent) {
		e.Entity = auditmodels.Entity{Type: "Prescription", ID: "42"}
		e.IsControlledSubstance = true
		e.RiskLevel = auditmodels.RiskHigh
	})
	unrelated := event(auditmodels.EventLogin)

	out := run(t, models.TypeDEAControlledSubstances, dispensed, unrelated)

	assert.Equal(t, 1, out.RecordsAnalyzed)
	assert.Equal(t, 1, out.Summary.ByEventType[auditmodels.EventPrescriptionDispensed])
	assert.Equal(t, "1", out.Summary.Metrics["prescriptions_dispensed"].String())
	assert.Zero(t, out.Violations)
	assert.Equal(t, "100.00", out.Score.StringFixed(2))
}

func TestDEAFlagsMissingReferenceAndSystemActor(t *testing.T) {
	e := event(auditmodels.EventPrescriptionDispensed, func(e *auditmodels.AuditEvent) {
		e.IsControlledSubstance = true
		e.Actor = nil
	})
	out := run(t, models.TypeDEAControlledSubstances, e)

	assert.ElementsMatch(t, []string{catMissingPrescriptionRef, catUnattributedControlled}, categories(out.Result.Violations))
	assert.Equal(t, 2, out.Violations)
	assert.Equal(t, "0.00", out.Score.StringFixed(2))
	assert.NotEmpty(t, out.Recommendations)
}

func TestHIPAAAfterHoursAndDenied(t *testing.T) {
	night := event(auditmodels.EventPatientRecordViewed, func(e *auditmodels.AuditEvent) {
		e.IsPHIAccess = true
		e.CreatedAt = time.Date(2025, 1, 15, 2, 0, 0, 0, time.UTC)
	})
	denied := event(auditmodels.EventPatientRecordViewed, func(e *auditmodels.AuditEvent) {
		e.IsPHIAccess = true
		e.AccessGranted = false
	})
	day := event(auditmodels.EventPatientRecordViewed, func(e *auditmodels.AuditEvent) { e.IsPHIAccess = true })

	out := run(t, models.TypeHIPAAAccess, night, denied, day)

	assert.Equal(t, 3, out.RecordsAnalyzed)
	assert.ElementsMatch(t, []string{catAfterHoursPHI, catDeniedPHI}, categories(out.Result.Warnings))
	assert.Equal(t, 2, out.Warnings)
	assert.Equal(t, 1, out.Summary.DeniedAccesses)
	assert.Equal(t, "83.33", out.Score.StringFixed(2))
}

func TestFailedLoginsBruteForce(t *testing.T) {
	var events []*auditmodels.AuditEvent
	for i := range 5 {
		events = append(events, event(auditmodels.EventLoginFailed, func(e *auditmodels.AuditEvent) {
			e.AccessGranted = false
			e.Request.IP = "203.0.113.7"
			e.Actor = &auditmodels.Actor{UserID: fmt.Sprintf("u%d", i)}
		}))
	}
	events = append(events, event(auditmodels.EventLogin))

	out := run(t, models.TypeFailedLogins, events...)

	require.Len(t, out.Result.Violations, 1)
	v := out.Result.Violations[0]
	assert.Equal(t, catBruteForce, v.Category)
	assert.Equal(t, 5, v.Count)
	assert.Len(t, v.EventIDs, 5)
	assert.Empty(t, out.Result.Warnings, "no single user crossed the threshold")
	assert.Equal(t, "83.33", out.Summary.Metrics["failure_rate_pct"].StringFixed(2))
}

func TestAuditTrailDetectsTampering(t *testing.T) {
	h, err := checksum.New("")
	require.NoError(t, err)

	good := event(auditmodels.EventLogin)
	good.Checksum, err = h.Compute(good)
	require.NoError(t, err)
	good.IsVerified = true

	tampered := event(auditmodels.EventRefundIssued)
	tampered.Checksum, err = h.Compute(tampered)
	require.NoError(t, err)
	tampered.EventType = auditmodels.EventPaymentProcessed

	missing := event(auditmodels.EventLogout)

	out := run(t, models.TypeAuditTrail, good, tampered, missing)

	assert.ElementsMatch(t, []string{catChecksumMismatch, catMissingChecksum}, categories(out.Result.Violations))
	assert.Empty(t, out.Result.Exceptions)
	assert.Equal(t, "33.33", out.Summary.Metrics["checksum_ok_pct"].StringFixed(2))
}

func TestRetentionRules(t *testing.T) {
	short := event(auditmodels.EventPatientRecordViewed, func(e *auditmodels.AuditEvent) {
		e.IsPHIAccess = true
		e.RetentionYears = 3
	})
	disabled := event(auditmodels.EventPaymentProcessed, func(e *auditmodels.AuditEvent) {
		e.IsFinancialData = true
		e.RequiresRetention = false
	})
	archived := event(auditmodels.EventLogin, func(e *auditmodels.AuditEvent) { e.IsArchived = true })

	out := run(t, models.TypeDataRetention, short, disabled, archived)

	assert.ElementsMatch(t, []string{catShortPHIRetention, catRetentionDisabled}, categories(out.Result.Violations))
	assert.Equal(t, 1, out.Exceptions)
	assert.Equal(t, 3, out.RecordsAnalyzed)
}

func TestPrescriptionMonitoring(t *testing.T) {
	rx := auditmodels.Entity{Type: "Prescription", ID: "rx-9"}
	created := event(auditmodels.EventPrescriptionCreated, func(e *auditmodels.AuditEvent) {
		e.Entity = rx
		e.Actor = &auditmodels.Actor{UserID: "dr-1"}
	})
	first := event(auditmodels.EventPrescriptionDispensed, func(e *auditmodels.AuditEvent) {
		e.Entity = rx
		e.IsControlledSubstance = true
		e.Actor = &auditmodels.Actor{UserID: "ph-1"}
	})
	second := event(auditmodels.EventPrescriptionDispensed, func(e *auditmodels.AuditEvent) {
		e.Entity = rx
		e.IsControlledSubstance = true
		e.Actor = &auditmodels.Actor{UserID: "dr-1"}
	})

	out := run(t, models.TypePrescriptionMonitoring, second, first, created)

	cats := categories(out.Result.Violations)
	assert.Contains(t, cats, catDuplicateDispensing)
	assert.Contains(t, cats, catSelfDispensing)
}

func TestSecurityIncidents(t *testing.T) {
	violation := event(auditmodels.EventIntegrityViolationDetected, func(e *auditmodels.AuditEvent) {
		e.RiskLevel = auditmodels.RiskCritical
		e.Actor = nil
	})
	denied := event("prescription_override", func(e *auditmodels.AuditEvent) {
		e.RiskLevel = auditmodels.RiskHigh
		e.AccessGranted = false
	})
	low := event(auditmodels.EventLogin)

	out := run(t, models.TypeSecurityIncidents, violation, denied, low)

	assert.Equal(t, 2, out.RecordsAnalyzed)
	assert.Equal(t, []string{catIntegrityIncident}, categories(out.Result.Violations))
	assert.Equal(t, []string{catHighRiskDenied}, categories(out.Result.Warnings))
	assert.Equal(t, 1, out.Summary.UniqueActors, "system actor is not counted")
}

func TestCleanPeriodRecommendation(t *testing.T) {
	out := run(t, models.TypeDataExports)
	assert.Equal(t, 0, out.RecordsAnalyzed)
	assert.Equal(t, "100.00", out.Score.StringFixed(2))
	assert.Equal(t, []string{cleanRecommendation}, out.Recommendations)
}
