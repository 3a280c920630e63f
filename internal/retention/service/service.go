// Package service implements retention cleanup: expired audit events and
// reports are copied to cold storage and then archived or purged in the hot
// store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/authz"
	reportmodels "pharmaudit/internal/reports/models"
	"pharmaudit/internal/retention/lock"
	"pharmaudit/internal/retention/metrics"
	"pharmaudit/internal/retention/models"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/sentinel"
	"pharmaudit/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks EventStore,ReportStore,Archiver

// EventStore is the hot audit store as seen by cleanup.
type EventStore interface {
	ListExpired(ctx context.Context, asOf time.Time, after *auditmodels.Cursor, limit int) ([]*auditmodels.AuditEvent, error)
	MarkArchived(ctx context.Context, eventID id.EventID, at time.Time) error
	Delete(ctx context.Context, eventID id.EventID) error
}

// ReportStore is the hot report store as seen by cleanup.
type ReportStore interface {
	ListExpired(ctx context.Context, asOf time.Time, after *reportmodels.Cursor, limit int) ([]*reportmodels.ComplianceReport, error)
	MarkArchived(ctx context.Context, reportID id.ReportID, at time.Time) error
	Delete(ctx context.Context, reportID id.ReportID) error
}

// Archiver keeps cold copies.
type Archiver interface {
	ArchiveEvent(ctx context.Context, e *auditmodels.AuditEvent, at time.Time) error
	ArchiveReport(ctx context.Context, r *reportmodels.ComplianceReport, at time.Time) error
}

// ArtifactRemover deletes the file of a purged report.
type ArtifactRemover interface {
	Delete(a *reportmodels.Artifact) error
}

// Recorder appends the audit event describing a run.
type Recorder interface {
	Record(ctx context.Context, req *auditmodels.RecordRequest) (*auditmodels.AuditEvent, error)
}

const (
	lockKey            = "retention-cleanup"
	maxDetails         = 1000
	defaultBatchSize   = 500
	defaultLockTTL     = 30 * time.Minute
	finalWriteTimeout  = 10 * time.Second
	tracerName         = "pharmaudit/retention"
	outcomeCompleted   = "completed"
	outcomePartial     = "partial"
	outcomeFailed      = "failed"
	outcomeLocked      = "locked"
	outcomeDryRun      = "dry_run"
	unattendedActorTag = "retention-scheduler"
)

// Manager runs retention cleanup.
type Manager struct {
	events    EventStore
	reports   ReportStore
	archive   Archiver
	locker    lock.Locker
	checker   authz.Checker
	artifacts ArtifactRemover
	recorder  Recorder

	policy    models.Policy
	batchSize int
	lockTTL   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clock     func() time.Time
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithPolicy sets the action for expired records that require retention.
func WithPolicy(p models.Policy) Option {
	return func(m *Manager) {
		if p != "" {
			m.policy = p
		}
	}
}

func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

func WithLockTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lockTTL = d
		}
	}
}

func WithArtifacts(a ArtifactRemover) Option {
	return func(m *Manager) {
		m.artifacts = a
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func New(events EventStore, reports ReportStore, archive Archiver, locker lock.Locker, checker authz.Checker, opts ...Option) *Manager {
	m := &Manager{
		events:    events,
		reports:   reports,
		archive:   archive,
		locker:    locker,
		checker:   checker,
		policy:    models.PolicyArchive,
		batchSize: defaultBatchSize,
		lockTTL:   defaultLockTTL,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) now() time.Time {
	return m.clock().UTC().Truncate(time.Microsecond)
}

// RunCleanup runs cleanup for an authenticated caller holding retention:run.
func (m *Manager) RunCleanup(ctx context.Context, req *models.RunRequest) (*models.CleanupReport, error) {
	if _, err := authz.RequireFromContext(ctx, m.checker, authz.CapRetentionRun); err != nil {
		return nil, err
	}
	return m.run(ctx, req)
}

// RunUnattended runs cleanup for the scheduler and the CLI, which act as
// the system.
func (m *Manager) RunUnattended(ctx context.Context, req *models.RunRequest) (*models.CleanupReport, error) {
	return m.run(ctx, req)
}

func (m *Manager) run(ctx context.Context, req *models.RunRequest) (*models.CleanupReport, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	ctx, span := m.tracer.Start(ctx, "retention.cleanup", trace.WithAttributes(
		attribute.Bool("retention.dry_run", req.DryRun),
		attribute.String("retention.policy", string(m.policy)),
	))
	defer span.End()

	if !req.DryRun {
		guard, err := m.locker.Acquire(ctx, lockKey, m.lockTTL)
		if err != nil {
			if errors.Is(err, sentinel.ErrLocked) {
				m.metrics.IncrementRun(outcomeLocked)
				m.logger.InfoContext(ctx, "retention cleanup skipped: another run holds the lock")
				return nil, dErrors.New(dErrors.CodeConflict, "retention cleanup is already running")
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.metrics.IncrementRun(outcomeFailed)
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to acquire retention lock")
		}
		defer m.release(ctx, guard)
	}

	asOf := m.now()
	rep := &models.CleanupReport{
		AsOf:      asOf,
		DryRun:    req.DryRun,
		Policy:    m.policy,
		Details:   []models.Detail{},
		StartedAt: asOf,
	}
	m.logger.InfoContext(ctx, "retention cleanup started",
		"as_of", asOf,
		"dry_run", req.DryRun,
		"policy", m.policy,
		"request_id", requestcontext.RequestID(ctx),
	)

	if err := m.sweepEvents(ctx, rep); err != nil {
		return rep, m.abort(ctx, span, rep, started, fmt.Errorf("audit events: %w", err))
	}
	if err := m.sweepReports(ctx, rep); err != nil {
		return rep, m.abort(ctx, span, rep, started, fmt.Errorf("reports: %w", err))
	}
	m.finish(rep)

	outcome := outcomeCompleted
	switch {
	case rep.DryRun:
		outcome = outcomeDryRun
	case rep.Failed() > 0:
		outcome = outcomePartial
	}
	span.SetAttributes(
		attribute.Int("retention.affected", rep.AffectedCount),
		attribute.Int("retention.failed", rep.Failed()),
	)
	span.SetStatus(codes.Ok, "")
	m.metrics.ObserveRun(outcome, started)
	m.logger.InfoContext(ctx, "retention cleanup finished",
		"outcome", outcome,
		"as_of", asOf,
		"events_scanned", rep.Events.Scanned,
		"events_archived", rep.Events.Archived,
		"events_purged", rep.Events.Purged,
		"reports_scanned", rep.Reports.Scanned,
		"reports_archived", rep.Reports.Archived,
		"reports_purged", rep.Reports.Purged,
		"failed", rep.Failed(),
		"duration", time.Since(started),
	)
	if !rep.DryRun {
		m.recordRun(ctx, rep, "")
	}
	return rep, nil
}

func (m *Manager) finish(rep *models.CleanupReport) {
	rep.AffectedCount = rep.Events.Affected() + rep.Reports.Affected()
	rep.CompletedAt = m.now()
}

// abort ends a run that could not page through a store. Records already
// processed stay processed.
func (m *Manager) abort(ctx context.Context, span trace.Span, rep *models.CleanupReport, started time.Time, cause error) error {
	m.finish(rep)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	m.metrics.ObserveRun(outcomeFailed, started)
	m.logger.ErrorContext(ctx, "retention cleanup aborted",
		"as_of", rep.AsOf,
		"affected", rep.AffectedCount,
		"error", cause,
	)
	if !rep.DryRun {
		m.recordRun(ctx, rep, cause.Error())
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return dErrors.Wrap(cause, dErrors.CodeTimeout, "retention cleanup interrupted")
	}
	return dErrors.Wrap(cause, dErrors.CodeInternal, "retention cleanup aborted")
}

func (m *Manager) release(ctx context.Context, g *lock.Guard) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := m.locker.Release(releaseCtx, g); err != nil {
		m.logger.WarnContext(ctx, "failed to release retention lock", "error", err)
	}
}

func (m *Manager) actionFor(requiresRetention bool) models.Action {
	if requiresRetention && m.policy == models.PolicyArchive {
		return models.ActionArchive
	}
	return models.ActionPurge
}

func (m *Manager) sweepEvents(ctx context.Context, rep *models.CleanupReport) error {
	var after *auditmodels.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := m.events.ListExpired(ctx, rep.AsOf, after, m.batchSize)
		if err != nil {
			return fmt.Errorf("list expired: %w", err)
		}
		for _, e := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep.Events.Scanned++
			d := models.Detail{
				Kind:      models.KindAuditEvent,
				ID:        e.ID.String(),
				Action:    m.actionFor(e.RequiresRetention),
				CreatedAt: e.CreatedAt,
				ExpiredAt: e.RetentionExpiresAt(),
			}
			var applyErr error
			if !rep.DryRun {
				applyErr = m.applyEvent(ctx, e, d.Action, rep.AsOf)
			}
			m.tally(ctx, rep, &rep.Events, d, applyErr)
		}
		if len(batch) < m.batchSize {
			return nil
		}
		c := auditmodels.CursorFor(batch[len(batch)-1])
		after = &c
	}
}

// applyEvent handles one event. Regulated events are copied to cold storage
// before the hot row changes, whatever the policy.
func (m *Manager) applyEvent(ctx context.Context, e *auditmodels.AuditEvent, action models.Action, at time.Time) error {
	if e.RequiresRetention {
		if err := m.archive.ArchiveEvent(ctx, e, at); err != nil {
			return err
		}
	}
	if action == models.ActionArchive {
		return m.events.MarkArchived(ctx, e.ID, at)
	}
	return m.events.Delete(ctx, e.ID)
}

func (m *Manager) sweepReports(ctx context.Context, rep *models.CleanupReport) error {
	var after *reportmodels.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := m.reports.ListExpired(ctx, rep.AsOf, after, m.batchSize)
		if err != nil {
			return fmt.Errorf("list expired: %w", err)
		}
		for _, r := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep.Reports.Scanned++
			d := models.Detail{
				Kind:      models.KindReport,
				ID:        r.ID.String(),
				Action:    m.actionFor(r.RequiresRetention),
				CreatedAt: r.CreatedAt,
				ExpiredAt: r.RetentionExpiresAt(),
			}
			var applyErr error
			if !rep.DryRun {
				applyErr = m.applyReport(ctx, r, d.Action, rep.AsOf)
			}
			m.tally(ctx, rep, &rep.Reports, d, applyErr)
		}
		if len(batch) < m.batchSize {
			return nil
		}
		c := reportmodels.CursorFor(batch[len(batch)-1])
		after = &c
	}
}

// applyReport handles one report. A purged report's file is removed after
// its row, so a failure leaves an orphaned file rather than a dangling row.
func (m *Manager) applyReport(ctx context.Context, r *reportmodels.ComplianceReport, action models.Action, at time.Time) error {
	if r.RequiresRetention {
		if err := m.archive.ArchiveReport(ctx, r, at); err != nil {
			return err
		}
	}
	if action == models.ActionArchive {
		return m.reports.MarkArchived(ctx, r.ID, at)
	}
	if err := m.reports.Delete(ctx, r.ID); err != nil {
		return err
	}
	if r.File != nil && m.artifacts != nil {
		if err := m.artifacts.Delete(r.File); err != nil {
			m.logger.WarnContext(ctx, "orphaned report artifact", "report_id", r.ID, "path", r.File.Path, "error", err)
		}
	}
	return nil
}

func (m *Manager) tally(ctx context.Context, rep *models.CleanupReport, counts *models.Counts, d models.Detail, err error) {
	if err != nil {
		counts.Failed++
		d.Error = err.Error()
		m.metrics.AddRecords(d.Kind, outcomeFailed, 1)
		m.logger.WarnContext(ctx, "retention action failed",
			"kind", d.Kind,
			"id", d.ID,
			"action", d.Action,
			"error", err,
		)
	} else {
		switch d.Action {
		case models.ActionArchive:
			counts.Archived++
		case models.ActionPurge:
			counts.Purged++
		}
		if !rep.DryRun {
			m.metrics.AddRecords(d.Kind, string(d.Action), 1)
		}
	}
	if len(rep.Details) < maxDetails {
		rep.Details = append(rep.Details, d)
	} else {
		rep.DetailsTruncated = true
	}
}

// recordRun audits a destructive run. A failure is logged only.
func (m *Manager) recordRun(ctx context.Context, rep *models.CleanupReport, abortErr string) {
	if m.recorder == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	writeCtx = requestcontext.WithTime(writeCtx, rep.CompletedAt)

	newValues := map[string]any{
		"events_scanned":   rep.Events.Scanned,
		"events_archived":  rep.Events.Archived,
		"events_purged":    rep.Events.Purged,
		"events_failed":    rep.Events.Failed,
		"reports_scanned":  rep.Reports.Scanned,
		"reports_archived": rep.Reports.Archived,
		"reports_purged":   rep.Reports.Purged,
		"reports_failed":   rep.Reports.Failed,
		"affected_count":   rep.AffectedCount,
	}
	if abortErr != "" {
		newValues["aborted"] = abortErr
	}
	req := &auditmodels.RecordRequest{
		EventType:        auditmodels.EventRetentionCleanupExecuted,
		EntityType:       "RetentionCleanup",
		EntityIdentifier: string(rep.Policy),
		NewValues:        newValues,
		Metadata: map[string]any{
			"as_of":  rep.AsOf.Format(time.RFC3339Nano),
			"policy": string(rep.Policy),
		},
		RiskLevel: string(auditmodels.RiskHigh),
	}
	if caller, ok := requestcontext.Principal(ctx); ok {
		req.Actor = &auditmodels.ActorRequest{
			UserID: auditmodels.OpaqueID(caller.UserID),
			Name:   caller.Name,
			Type:   caller.Type,
		}
	} else {
		req.Metadata["triggered_by"] = unattendedActorTag
	}
	if _, err := m.recorder.Record(writeCtx, req); err != nil {
		m.logger.ErrorContext(ctx, "failed to audit retention cleanup", "as_of", rep.AsOf, "error", err)
	}
}
