// Package service is the audit recorder: the single entry point that
// classifies, checksums and persists audit events and answers queries.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pharmaudit/internal/audit/checksum"
	"pharmaudit/internal/audit/metrics"
	"pharmaudit/internal/audit/models"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/sentinel"
	"pharmaudit/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

// Store is the persistence the recorder needs. There is no general update.
type Store interface {
	Append(ctx context.Context, e *models.AuditEvent) error
	FindByID(ctx context.Context, eventID id.EventID) (*models.AuditEvent, error)
	List(ctx context.Context, filter models.EventFilter, cursor *models.Cursor, limit int, asOf time.Time) ([]*models.AuditEvent, error)
	MarkVerified(ctx context.Context, eventID id.EventID, at time.Time) error
}

const (
	defaultPageSize = 50
	scanPageSize    = 500
)

// Service records and queries audit events.
type Service struct {
	store                 Store
	hasher                *checksum.Hasher
	defaultRetentionYears int
	maxPageSize           int
	logger                *slog.Logger
	metrics               *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDefaultRetentionYears sets the retention applied when a request omits it.
func WithDefaultRetentionYears(years int) Option {
	return func(s *Service) {
		if years > 0 {
			s.defaultRetentionYears = years
		}
	}
}

// WithMaxPageSize caps List page sizes.
func WithMaxPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageSize = n
		}
	}
}

// New constructs the recorder. A nil hasher uses SHA-256.
func New(store Store, hasher *checksum.Hasher, opts ...Option) *Service {
	if hasher == nil {
		hasher, _ = checksum.New("")
	}
	s := &Service{
		store:                 store,
		hasher:                hasher,
		defaultRetentionYears: 7,
		maxPageSize:           200,
		logger:                slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record validates, classifies, checksums and persists one event. A
// persistence failure is always returned to the caller.
func (s *Service) Record(ctx context.Context, req *models.RecordRequest) (*models.AuditEvent, error) {
	start := time.Now()
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e, err := s.buildEvent(ctx, req)
	if err != nil {
		return nil, err
	}
	e.Checksum, err = s.hasher.Compute(e)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute checksum")
	}

	if err := s.store.Append(ctx, e); err != nil {
		s.metrics.IncrementPersistFailure()
		s.logger.ErrorContext(ctx, "CRITICAL: audit event persistence failed",
			"event_id", e.ID,
			"event_type", e.EventType,
			"risk_level", e.RiskLevel,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist audit event")
	}

	s.metrics.IncrementRecorded(string(e.RiskLevel))
	s.metrics.ObserveRecord(start)
	return e, nil
}

func (s *Service) buildEvent(ctx context.Context, req *models.RecordRequest) (*models.AuditEvent, error) {
	e := &models.AuditEvent{
		ID:        id.NewEventID(),
		EventType: req.EventType,
		Entity: models.Entity{
			Type:       req.EntityType,
			ID:         req.EntityID.String(),
			Identifier: req.EntityIdentifier,
		},
		Request:               requestInfo(ctx, req),
		IsPHIAccess:           req.IsPHIAccess,
		IsControlledSubstance: req.IsControlledSubstance,
		IsFinancialData:       req.IsFinancialData,
		RequiresRetention:     true,
		RetentionYears:        s.defaultRetentionYears,
		AccessGranted:         true,
		ResponseStatus:        req.ResponseStatus,
		CreatedAt:             requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
	}
	if req.Actor != nil {
		e.Actor = &models.Actor{UserID: req.Actor.UserID.String(), Name: req.Actor.Name, Type: req.Actor.Type}
	}
	if req.RequiresRetention != nil {
		e.RequiresRetention = *req.RequiresRetention
	}
	if req.RetentionYears != nil {
		e.RetentionYears = *req.RetentionYears
	}
	if req.AccessGranted != nil {
		e.AccessGranted = *req.AccessGranted
	}

	if req.RiskLevel != "" {
		e.RiskLevel = models.RiskLevel(req.RiskLevel)
	} else {
		e.RiskLevel = models.InferRiskLevel(e.IsPHIAccess, e.IsControlledSubstance, e.IsFinancialData, e.AccessGranted)
	}
	if req.DataClassification != "" {
		e.DataClassification = models.DataClassification(req.DataClassification)
	} else {
		e.DataClassification = models.InferDataClassification(e.IsPHIAccess, e.IsControlledSubstance, e.IsFinancialData)
	}

	var err error
	if e.OldValues, err = models.NormalizeValues(req.OldValues); err != nil {
		return nil, dErrors.NewField(dErrors.CodeValidation, "old_values", "old_values must be JSON serializable")
	}
	if e.NewValues, err = models.NormalizeValues(req.NewValues); err != nil {
		return nil, dErrors.NewField(dErrors.CodeValidation, "new_values", "new_values must be JSON serializable")
	}
	metadata := enrichMetadata(req.Metadata, e.Request.UserAgent)
	if e.Metadata, err = models.NormalizeValues(metadata); err != nil {
		return nil, dErrors.NewField(dErrors.CodeValidation, "metadata", "metadata must be JSON serializable")
	}
	return e, nil
}

// requestInfo prefers values the caller sent and falls back to the context
// populated by the HTTP middleware.
func requestInfo(ctx context.Context, req *models.RecordRequest) models.RequestInfo {
	info := models.RequestInfo{
		IP:        req.IP,
		UserAgent: req.UserAgent,
		SessionID: req.SessionID,
		Route:     req.Route,
		Method:    req.Method,
		URL:       req.URL,
	}
	if info.IP == "" {
		if ip := requestcontext.ClientIP(ctx); ip != "unknown" {
			info.IP = ip
		}
	}
	if info.UserAgent == "" {
		info.UserAgent = requestcontext.UserAgent(ctx)
	}
	if info.SessionID == "" {
		info.SessionID = requestcontext.SessionID(ctx)
	}
	route := requestcontext.Route(ctx)
	if info.Route == "" {
		info.Route = route.Route
	}
	if info.Method == "" {
		info.Method = route.Method
	}
	if info.URL == "" {
		info.URL = route.URL
	}
	return info
}

// Get returns one event.
func (s *Service) Get(ctx context.Context, eventID id.EventID) (*models.AuditEvent, error) {
	e, err := s.store.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit event")
	}
	return e, nil
}

// List returns one page of events matching filter, newest first.
func (s *Service) List(ctx context.Context, filter models.EventFilter, cursorToken string, limit int) (*models.Page, error) {
	cursor, err := models.DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	events, err := s.store.List(ctx, filter, cursor, limit+1, time.Time{})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}
	page := &models.Page{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.NextCursor = models.CursorFor(page.Events[limit-1]).Encode()
	}
	if page.Events == nil {
		page.Events = []*models.AuditEvent{}
	}
	return page, nil
}

// Scan feeds every event matching filter and created before asOf to fn, one
// page at a time, newest first. A zero asOf means no upper bound.
func (s *Service) Scan(ctx context.Context, filter models.EventFilter, asOf time.Time, fn func([]*models.AuditEvent) error) error {
	var cursor *models.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.store.List(ctx, filter, cursor, scanPageSize, asOf)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan audit events")
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < scanPageSize {
			return nil
		}
		c := models.CursorFor(batch[len(batch)-1])
		cursor = &c
	}
}

// Stats counts events in [from, to) for the dashboard.
func (s *Service) Stats(ctx context.Context, from, to *time.Time) (*models.Stats, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "date_to", "date_to must be after date_from")
	}
	stats := models.NewStats()
	stats.From, stats.To = from, to
	err := s.Scan(ctx, models.EventFilter{From: from, To: to}, time.Time{}, func(batch []*models.AuditEvent) error {
		for _, e := range batch {
			stats.Add(e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
