package analysis

import (
	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/reports/models"
)

const systemActor = "system"

// SummaryBuilder accumulates the counts shared by every report.
type SummaryBuilder struct {
	s *models.Summary
}

func NewSummaryBuilder() *SummaryBuilder {
	return &SummaryBuilder{s: models.NewSummary()}
}

func (b *SummaryBuilder) Observe(e *auditmodels.AuditEvent) {
	b.s.TotalRecords++
	b.s.ByEventType[e.EventType]++
	b.s.ByRiskLevel[string(e.RiskLevel)]++
	b.s.ByDataClassification[string(e.DataClassification)]++
	actor := e.ActorUserID()
	if actor == "" {
		actor = systemActor
	}
	b.s.ByActor[actor]++
	b.s.ByDay[e.CreatedAt.UTC().Format("2006-01-02")]++
	if !e.AccessGranted {
		b.s.DeniedAccesses++
	}
}

// Build returns the summary with the result's metrics attached.
func (b *SummaryBuilder) Build(res Result) *models.Summary {
	b.s.UniqueActors = len(b.s.ByActor)
	if _, ok := b.s.ByActor[systemActor]; ok {
		b.s.UniqueActors--
	}
	for name, v := range res.Metrics {
		b.s.SetMetric(name, v)
	}
	return b.s
}
