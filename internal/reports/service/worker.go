package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/reports/analysis"
	"pharmaudit/internal/reports/models"
	"pharmaudit/internal/reports/store"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/sentinel"
	"pharmaudit/pkg/requestcontext"
)

// finalWriteTimeout bounds the terminal status write after the generation
// context has expired.
const finalWriteTimeout = 10 * time.Second

func (s *Service) work() {
	defer s.wg.Done()
	for j := range s.jobs {
		s.metrics.SetQueueDepth(len(s.jobs))
		s.run(j)
	}
}

// run takes one report to exactly one terminal status.
func (s *Service) run(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, s.generationTimeout)
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	started := time.Now()
	r, err := s.store.FindByID(ctx, j.reportID)
	if err != nil {
		s.logger.ErrorContext(ctx, "queued report could not be loaded",
			"report_id", j.reportID,
			"error", err,
		)
		return
	}

	ctx, span := s.tracer.Start(ctx, "reports.generate", trace.WithAttributes(
		attribute.String("report.id", r.ID.String()),
		attribute.String("report.type", r.ReportType),
		attribute.String("report.format", string(r.Parameters.Format)),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			s.logger.ErrorContext(ctx, "report generation panicked", "report_id", r.ID, "status", r.Status, "panic", p)
			if r.Status.IsTerminal() {
				return
			}
			s.failRun(ctx, span, r, started, errors.New("internal error during generation"))
		}
	}()

	if err := s.markGenerating(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			s.logger.WarnContext(ctx, "report left pending state before generation", "report_id", r.ID)
			return
		}
		s.failRun(ctx, span, r, started, err)
		return
	}

	completed, err := s.generate(ctx, r, j.asOf)
	if err != nil {
		s.failRun(ctx, span, r, started, err)
		return
	}

	span.SetAttributes(
		attribute.Int("report.records_analyzed", completed.RecordsAnalyzed),
		attribute.Int("report.violations", completed.ViolationsCount),
	)
	span.SetStatus(codes.Ok, "")
	s.metrics.ObserveGeneration(completed.ReportType, string(models.StatusCompleted), started)
	if completed.ComplianceScore != nil {
		s.metrics.SetScore(completed.ReportType, completed.ComplianceScore.InexactFloat64())
	}
	s.logger.InfoContext(ctx, "report generated",
		"report_id", completed.ID,
		"report_type", completed.ReportType,
		"records_analyzed", completed.RecordsAnalyzed,
		"violations", completed.ViolationsCount,
		"warnings", completed.WarningsCount,
		"compliance_score", completed.ComplianceScore,
		"duration", time.Since(started),
	)
	s.recordActivity(requestcontext.WithTime(ctx, *completed.GenerationCompletedAt), completed, auditmodels.EventReportGenerated, map[string]any{
		"status":           string(completed.Status),
		"compliance_score": completed.ComplianceScore.StringFixed(2),
		"records_analyzed": completed.RecordsAnalyzed,
		"violations_count": completed.ViolationsCount,
		"file_hash":        completed.File.Hash,
	})
	s.distribute(ctx, completed)
}

func (s *Service) failRun(ctx context.Context, span trace.Span, r *models.ComplianceReport, started time.Time, cause error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	s.metrics.ObserveGeneration(r.ReportType, string(models.StatusFailed), started)
	s.logger.ErrorContext(ctx, "report generation failed",
		"report_id", r.ID,
		"report_type", r.ReportType,
		"error", cause,
	)
	s.fail(ctx, r, cause)
}

func (s *Service) markGenerating(ctx context.Context, r *models.ComplianceReport) error {
	now := s.now()
	next := r.Clone()
	next.Status = models.StatusGenerating
	next.GenerationStartedAt = &now
	next.UpdatedAt = now
	if err := s.store.Update(ctx, next, store.Guard{Status: models.StatusPending}); err != nil {
		return err
	}
	*r = *next
	return nil
}

// generate analyses the period and stores the artifact. r stays untouched
// unless the completed report was persisted.
func (s *Service) generate(ctx context.Context, r *models.ComplianceReport, asOf time.Time) (*models.ComplianceReport, error) {
	analyzer, ok := s.registry.Lookup(r.ReportType)
	if !ok {
		return nil, fmt.Errorf("no analyzer registered for %s", r.ReportType)
	}

	start, end := r.PeriodStart, r.PeriodEnd
	filter := analyzer.Predicate().
		Narrow(r.Parameters.Filters.EventFilter()).
		Narrow(auditmodels.EventFilter{From: &start, To: &end})
	filter.IncludeArchived = true

	session := analysis.Start(analyzer, s.analysisConfig)
	err := s.events.Scan(ctx, filter, asOf, func(batch []*auditmodels.AuditEvent) error {
		for _, e := range batch {
			session.Observe(e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	outcome := session.Finish(s.weights)

	done := s.now()
	next := r.Clone()
	next.Status = models.StatusCompleted
	next.Summary = outcome.Summary
	next.Violations = outcome.Result.Violations
	next.DetailedFindings = append(append([]models.Finding(nil), outcome.Result.Warnings...), outcome.Result.Exceptions...)
	next.Recommendations = outcome.Recommendations
	next.RecordsAnalyzed = outcome.RecordsAnalyzed
	next.ViolationsCount = outcome.Violations
	next.WarningsCount = outcome.Warnings
	next.ExceptionsCount = outcome.Exceptions
	score := outcome.Score
	next.ComplianceScore = &score
	next.GenerationCompletedAt = &done
	next.GenerationTimeSeconds = elapsed(r.GenerationStartedAt, done)
	next.UpdatedAt = done

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	artifact, err := s.artifacts.Save(next, next.Parameters.Format)
	if err != nil {
		return nil, fmt.Errorf("export report: %w", err)
	}
	next.File = artifact

	if err := s.store.Update(ctx, next, store.Guard{Status: models.StatusGenerating}); err != nil {
		if derr := s.artifacts.Delete(artifact); derr != nil {
			s.logger.WarnContext(ctx, "orphaned report artifact", "path", artifact.Path, "error", derr)
		}
		return nil, fmt.Errorf("persist completed report: %w", err)
	}
	*r = *next
	return next, nil
}

// fail writes the failed status with the cause. The write uses a detached
// context so a timed out generation is still recorded.
func (s *Service) fail(ctx context.Context, r *models.ComplianceReport, cause error) *models.ComplianceReport {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	now := s.now()
	next := r.Clone()
	next.Status = models.StatusFailed
	next.ErrorMessage = failureMessage(cause)
	next.GenerationCompletedAt = &now
	next.GenerationTimeSeconds = elapsed(r.GenerationStartedAt, now)
	next.UpdatedAt = now
	if err := s.store.Update(writeCtx, next, store.Guard{Status: r.Status}); err != nil {
		s.logger.ErrorContext(writeCtx, "CRITICAL: could not mark report failed",
			"report_id", r.ID,
			"status", r.Status,
			"cause", cause,
			"error", err,
		)
		return r
	}
	s.recordActivity(requestcontext.WithTime(writeCtx, now), next, auditmodels.EventReportGenerated, map[string]any{
		"status":        string(next.Status),
		"error_message": next.ErrorMessage,
	})
	return next
}

func failureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "generation timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "generation cancelled"
	}
	msg := err.Error()
	if de, ok := dErrors.As(err); ok && de.Code == dErrors.CodeInternal {
		msg = de.Message
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}

func elapsed(started *time.Time, done time.Time) *decimal.Decimal {
	if started == nil {
		return nil
	}
	d := decimal.NewFromFloat(done.Sub(*started).Seconds()).Round(3)
	return &d
}

// recordActivity audits report lifecycle changes at the context's time, so
// worker callers stamp the moment of the change rather than the request.
// A failure is logged only; the report state is already durable.
func (s *Service) recordActivity(ctx context.Context, r *models.ComplianceReport, eventType string, newValues map[string]any) {
	if s.recorder == nil {
		return
	}
	req := &auditmodels.RecordRequest{
		EventType:        eventType,
		EntityType:       "ComplianceReport",
		EntityID:         auditmodels.OpaqueID(r.ID.String()),
		EntityIdentifier: r.ReportType,
		NewValues:        newValues,
		Metadata: map[string]any{
			"report_name":  r.ReportName,
			"framework":    r.Framework,
			"period_start": r.PeriodStart.Format(time.RFC3339),
			"period_end":   r.PeriodEnd.Format(time.RFC3339),
		},
	}
	if caller, ok := requestcontext.Principal(ctx); ok {
		req.Actor = &auditmodels.ActorRequest{
			UserID: auditmodels.OpaqueID(caller.UserID),
			Name:   caller.Name,
			Type:   caller.Type,
		}
	}
	if _, err := s.recorder.Record(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit report activity",
			"report_id", r.ID,
			"event_type", eventType,
			"error", err,
		)
	}
}
