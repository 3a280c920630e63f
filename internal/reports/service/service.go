// Package service generates compliance reports on a background worker pool
// and runs the review workflow over finished reports.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/authz"
	"pharmaudit/internal/reports/analysis"
	"pharmaudit/internal/reports/metrics"
	"pharmaudit/internal/reports/models"
	"pharmaudit/internal/reports/store"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/sentinel"
	"pharmaudit/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,EventSource,Recorder,Notifier

// Store persists reports.
type Store interface {
	Create(ctx context.Context, r *models.ComplianceReport) error
	FindByID(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, error)
	Update(ctx context.Context, r *models.ComplianceReport, guard store.Guard) error
	AppendDistribution(ctx context.Context, reportID id.ReportID, entries []models.DistributionEntry, at time.Time) error
	List(ctx context.Context, filter models.ReportFilter, cursor *models.Cursor, limit int) ([]*models.ComplianceReport, error)
}

// EventSource pages through audit events created before asOf.
type EventSource interface {
	Scan(ctx context.Context, filter auditmodels.EventFilter, asOf time.Time, fn func([]*auditmodels.AuditEvent) error) error
}

// Recorder appends audit events about report activity.
type Recorder interface {
	Record(ctx context.Context, req *auditmodels.RecordRequest) (*auditmodels.AuditEvent, error)
}

// ArtifactStore keeps rendered report files.
type ArtifactStore interface {
	Save(r *models.ComplianceReport, format models.Format) (*models.Artifact, error)
	Open(a *models.Artifact) (*os.File, error)
	Delete(a *models.Artifact) error
}

// Notifier delivers a completed report to one recipient.
type Notifier interface {
	Notify(ctx context.Context, d models.Delivery) error
	Channel() string
}

const (
	defaultPageSize    = 50
	maxErrorMessageLen = 1000
	tracerName         = "pharmaudit/reports"
)

// Service creates reports, drives their generation and reviews them.
type Service struct {
	store     Store
	events    EventSource
	recorder  Recorder
	artifacts ArtifactStore
	registry  *analysis.Registry
	checker   authz.Checker
	notifier  Notifier

	weights           analysis.Weights
	analysisConfig    analysis.Config
	workers           int
	queueSize         int
	retentionYears    int
	segregateDuties   bool
	generationTimeout time.Duration
	maxPageSize       int
	logger            *slog.Logger
	metrics           *metrics.Metrics
	tracer            trace.Tracer
	clock             func() time.Time

	mu        sync.RWMutex
	closed    bool
	jobs      chan job
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

type job struct {
	// ctx carries request values only; the request's cancellation is dropped.
	ctx      context.Context
	reportID id.ReportID
	asOf     time.Time
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

func WithRegistry(r *analysis.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithWeights(w analysis.Weights) Option {
	return func(s *Service) {
		s.weights = w
	}
}

func WithAnalysisConfig(cfg analysis.Config) Option {
	return func(s *Service) {
		s.analysisConfig = cfg
	}
}

// WithWorkers sets the pool size and the number of jobs that may wait.
func WithWorkers(workers, queueSize int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
		if queueSize >= 0 {
			s.queueSize = queueSize
		}
	}
}

func WithRetentionYears(years int) Option {
	return func(s *Service) {
		if years > 0 {
			s.retentionYears = years
		}
	}
}

// WithSegregationOfDuties forbids reviewing a report one generated.
func WithSegregationOfDuties(enabled bool) Option {
	return func(s *Service) {
		s.segregateDuties = enabled
	}
}

func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.generationTimeout = d
		}
	}
}

func WithMaxPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageSize = n
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source for generation timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs the service. Workers are started by Start.
func New(st Store, events EventSource, recorder Recorder, artifacts ArtifactStore, checker authz.Checker, opts ...Option) *Service {
	s := &Service{
		store:             st,
		events:            events,
		recorder:          recorder,
		artifacts:         artifacts,
		checker:           checker,
		registry:          analysis.NewRegistry(),
		weights:           analysis.DefaultWeights(),
		analysisConfig:    analysis.DefaultConfig(),
		workers:           2,
		queueSize:         32,
		retentionYears:    7,
		generationTimeout: 10 * time.Minute,
		maxPageSize:       200,
		logger:            slog.Default(),
		tracer:            otel.Tracer(tracerName),
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.jobs = make(chan job, s.queueSize)
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// Start launches the generation workers. It returns immediately.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		for range s.workers {
			s.wg.Add(1)
			go s.work()
		}
		s.logger.Info("report workers started", "workers", s.workers, "queue_size", s.queueSize)
	})
}

// Close stops accepting jobs and waits for queued and running generations
// to finish. When ctx expires first, running generations are cancelled and
// fail.
func (s *Service) Close(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Generate validates the request, persists a pending report and queues its
// generation. It returns before any event is read.
func (s *Service) Generate(ctx context.Context, req *models.GenerateRequest) (*models.ComplianceReport, error) {
	caller, err := authz.RequireFromContext(ctx, s.checker, authz.CapReportsGenerate)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, req, caller.UserID, false)
}

func (s *Service) submit(ctx context.Context, req *models.GenerateRequest, generatedBy string, scheduled bool) (*models.ComplianceReport, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	analyzer, ok := s.registry.Lookup(req.ReportType)
	if !ok {
		return nil, dErrors.NewField(dErrors.CodeValidation, "report_type", "unsupported report type "+req.ReportType)
	}

	now := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	start, end := req.Period()
	r := &models.ComplianceReport{
		ID:          id.NewReportID(),
		ReportType:  req.ReportType,
		ReportName:  req.ReportName,
		Description: req.Description,
		Framework:   req.Framework,
		PeriodStart: start,
		PeriodEnd:   end,
		Parameters: models.Parameters{
			Format:    req.ParsedFormat(),
			Filters:   req.Filters,
			Scheduled: scheduled,
		},
		Status:            models.StatusPending,
		ReviewStatus:      models.ReviewPending,
		RequiresRetention: true,
		RetentionYears:    s.retentionYears,
		DistributionList:  req.DistributionList,
		GeneratedBy:       generatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if r.Framework == "" {
		r.Framework = analyzer.Framework()
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create report")
	}

	asOf := end
	if now.Before(asOf) {
		asOf = now
	}
	if err := s.enqueue(job{ctx: context.WithoutCancel(ctx), reportID: r.ID, asOf: asOf}); err != nil {
		s.metrics.IncrementQueueRejection()
		s.logger.WarnContext(ctx, "report generation not queued",
			"report_id", r.ID,
			"report_type", r.ReportType,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return s.fail(ctx, r, err), nil
	}

	s.logger.InfoContext(ctx, "report generation queued",
		"report_id", r.ID,
		"report_type", r.ReportType,
		"period_start", start,
		"period_end", end,
		"request_id", requestcontext.RequestID(ctx),
	)
	return r, nil
}

var (
	errQueueFull    = errors.New("generation queue full")
	errShuttingDown = errors.New("report service is shutting down")
)

func (s *Service) enqueue(j job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errShuttingDown
	}
	select {
	case s.jobs <- j:
		s.metrics.SetQueueDepth(len(s.jobs))
		return nil
	default:
		return errQueueFull
	}
}

// Get returns one report.
func (s *Service) Get(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, error) {
	if _, err := authz.RequireFromContext(ctx, s.checker, authz.CapReportsRead); err != nil {
		return nil, err
	}
	return s.load(ctx, reportID)
}

func (s *Service) load(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, error) {
	r, err := s.store.FindByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "report not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load report")
	}
	return r, nil
}

// List returns one page of reports, newest first.
func (s *Service) List(ctx context.Context, filter models.ReportFilter, cursorToken string, limit int) (*models.Page, error) {
	if _, err := authz.RequireFromContext(ctx, s.checker, authz.CapReportsRead); err != nil {
		return nil, err
	}
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

	reports, err := s.store.List(ctx, filter, cursor, limit+1)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reports")
	}
	page := &models.Page{Reports: reports}
	if len(reports) > limit {
		page.Reports = reports[:limit]
		page.NextCursor = models.CursorFor(page.Reports[limit-1]).Encode()
	}
	if page.Reports == nil {
		page.Reports = []*models.ComplianceReport{}
	}
	return page, nil
}

// OpenArtifact returns the report and its verified file. The caller closes
// the file.
func (s *Service) OpenArtifact(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, *os.File, error) {
	if _, err := authz.RequireFromContext(ctx, s.checker, authz.CapReportsRead); err != nil {
		return nil, nil, err
	}
	r, err := s.load(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	if r.File == nil {
		return nil, nil, dErrors.New(dErrors.CodeInvalidState, "report has no artifact; status is "+string(r.Status))
	}
	f, err := s.artifacts.Open(r.File)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeIntegrity) {
			s.logger.ErrorContext(ctx, "CRITICAL: report artifact failed integrity check",
				"report_id", r.ID,
				"path", r.File.Path,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		return nil, nil, err
	}
	return r, f, nil
}

// Types lists the report types the registry can generate.
func (s *Service) Types() []string {
	return s.registry.Types()
}
