package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pharmaudit/internal/audit/checksum"
	auditmodels "pharmaudit/internal/audit/models"
	auditservice "pharmaudit/internal/audit/service"
	auditstore "pharmaudit/internal/audit/store"
	"pharmaudit/internal/authz"
	"pharmaudit/internal/reports/export"
	reportmodels "pharmaudit/internal/reports/models"
	reportstore "pharmaudit/internal/reports/store"
	"pharmaudit/internal/retention/archive"
	"pharmaudit/internal/retention/lock"
	"pharmaudit/internal/retention/metrics"
	"pharmaudit/internal/retention/models"
	"pharmaudit/internal/retention/service/mocks"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/sentinel"
	"pharmaudit/pkg/requestcontext"
)

var (
	admin      = requestcontext.Caller{UserID: "admin-1", Name: "Alex", Type: "user", Roles: []string{authz.RoleAdmin}}
	pharmacist = requestcontext.Caller{UserID: "rph-1", Name: "Jordan", Type: "user", Roles: []string{authz.RolePharmacist}}
)

type ManagerSuite struct {
	suite.Suite
	events    *auditstore.InMemory
	reports   *reportstore.InMemory
	archive   *archive.SQLite
	artifacts *export.FileStore
	locker    *lock.Memory
	audit     *auditservice.Service
	metrics   *metrics.Metrics
	now       time.Time
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	var err error
	s.events = auditstore.NewInMemory()
	s.reports = reportstore.NewInMemory()
	s.archive, err = archive.Open(context.Background(), filepath.Join(s.T().TempDir(), "archive.db"))
	s.Require().NoError(err)
	s.artifacts, err = export.NewFileStore(s.T().TempDir())
	s.Require().NoError(err)
	s.locker = lock.NewMemory()
	hasher, err := checksum.New("sha256")
	s.Require().NoError(err)
	s.audit = auditservice.New(s.events, hasher, auditservice.WithLogger(discard()))
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.now = time.Date(2032, 6, 1, 3, 0, 0, 0, time.UTC)
}

func (s *ManagerSuite) TearDownTest() {
	s.Require().NoError(s.archive.Close())
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ManagerSuite) manager(opts ...Option) *Manager {
	opts = append([]Option{
		WithLogger(discard()),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
		WithArtifacts(s.artifacts),
		WithRecorder(s.audit),
	}, opts...)
	return New(s.events, s.reports, s.archive, s.locker, authz.NewRoleChecker(nil), opts...)
}

// seedEvent stores an event created years before now with the given
// retention window.
func (s *ManagerSuite) seedEvent(ageYears, retentionYears int, regulated bool) *auditmodels.AuditEvent {
	e := &auditmodels.AuditEvent{
		ID:                id.NewEventID(),
		EventType:         auditmodels.EventPrescriptionDispensed,
		RequiresRetention: regulated,
		RetentionYears:    retentionYears,
		Checksum:          "sha256:seed",
		RiskLevel:         auditmodels.RiskLow,
		AccessGranted:     true,
		CreatedAt:         s.now.AddDate(-ageYears, 0, -1),
	}
	s.Require().NoError(s.events.Append(context.Background(), e))
	return e
}

func (s *ManagerSuite) seedReport(ageYears int, regulated bool) *reportmodels.ComplianceReport {
	created := s.now.AddDate(-ageYears, 0, -1)
	r := &reportmodels.ComplianceReport{
		ID:                id.NewReportID(),
		ReportType:        reportmodels.TypeAuditTrail,
		ReportName:        "old trail",
		PeriodStart:       created.AddDate(0, -1, 0),
		PeriodEnd:         created,
		Parameters:        reportmodels.Parameters{Format: reportmodels.FormatJSON},
		Status:            reportmodels.StatusCompleted,
		RequiresRetention: regulated,
		RetentionYears:    7,
		ReviewStatus:      reportmodels.ReviewPending,
		GeneratedBy:       "officer-1",
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	file, err := s.artifacts.Save(r, reportmodels.FormatJSON)
	s.Require().NoError(err)
	r.File = file
	s.Require().NoError(s.reports.Create(context.Background(), r))
	return r
}

func (s *ManagerSuite) cleanupEvents() []*auditmodels.AuditEvent {
	all, err := s.events.List(context.Background(), auditmodels.EventFilter{EventTypes: []string{auditmodels.EventRetentionCleanupExecuted}}, nil, 0, time.Time{})
	s.Require().NoError(err)
	return all
}

func (s *ManagerSuite) TestConfirmRequired() {
	_, err := s.manager().RunUnattended(context.Background(), &models.RunRequest{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.manager().RunUnattended(context.Background(), nil)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ManagerSuite) TestRunCleanupRequiresCapability() {
	ctx := requestcontext.WithPrincipal(context.Background(), pharmacist)
	_, err := s.manager().RunCleanup(ctx, &models.RunRequest{DryRun: true})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.manager().RunCleanup(context.Background(), &models.RunRequest{DryRun: true})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	ctx = requestcontext.WithPrincipal(context.Background(), admin)
	rep, err := s.manager().RunCleanup(ctx, &models.RunRequest{DryRun: true})
	s.Require().NoError(err)
	s.True(rep.DryRun)
}

func (s *ManagerSuite) TestDryRunChangesNothing() {
	regulated := s.seedEvent(8, 7, true)
	plain := s.seedEvent(2, 1, false)
	s.seedEvent(1, 7, true)
	report := s.seedReport(8, true)

	rep, err := s.manager().RunUnattended(context.Background(), &models.RunRequest{DryRun: true})
	s.Require().NoError(err)

	s.Equal(models.Counts{Scanned: 2, Archived: 1, Purged: 1}, rep.Events)
	s.Equal(models.Counts{Scanned: 1, Archived: 1}, rep.Reports)
	s.Equal(3, rep.AffectedCount)
	s.Len(rep.Details, 3)
	s.Equal(s.now, rep.AsOf)

	for _, e := range []*auditmodels.AuditEvent{regulated, plain} {
		got, err := s.events.FindByID(context.Background(), e.ID)
		s.Require().NoError(err)
		s.False(got.IsArchived)
	}
	got, err := s.reports.FindByID(context.Background(), report.ID)
	s.Require().NoError(err)
	s.Equal(reportmodels.StatusCompleted, got.Status)

	n, err := s.archive.Count(context.Background(), models.KindAuditEvent)
	s.Require().NoError(err)
	s.Zero(n)
	s.Empty(s.cleanupEvents())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Runs.WithLabelValues(outcomeDryRun)))
}

func (s *ManagerSuite) TestArchivePolicy() {
	regulated := s.seedEvent(8, 7, true)
	plain := s.seedEvent(2, 1, false)
	fresh := s.seedEvent(1, 7, true)
	report := s.seedReport(8, true)

	ctx := requestcontext.WithPrincipal(context.Background(), admin)
	rep, err := s.manager().RunCleanup(ctx, &models.RunRequest{Confirm: true})
	s.Require().NoError(err)
	s.Equal(models.PolicyArchive, rep.Policy)
	s.Equal(models.Counts{Scanned: 2, Archived: 1, Purged: 1}, rep.Events)
	s.Equal(models.Counts{Scanned: 1, Archived: 1}, rep.Reports)
	s.Zero(rep.Failed())

	got, err := s.events.FindByID(context.Background(), regulated.ID)
	s.Require().NoError(err)
	s.True(got.IsArchived)
	s.Require().NotNil(got.ArchivedAt)
	s.Equal(s.now, *got.ArchivedAt)

	cold, err := s.archive.Get(context.Background(), models.KindAuditEvent, regulated.ID.String())
	s.Require().NoError(err)
	s.Equal(regulated.Checksum, cold.Checksum)

	_, err = s.events.FindByID(context.Background(), plain.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.archive.Get(context.Background(), models.KindAuditEvent, plain.ID.String())
	s.ErrorIs(err, sentinel.ErrNotFound)

	got, err = s.events.FindByID(context.Background(), fresh.ID)
	s.Require().NoError(err)
	s.False(got.IsArchived)

	gotReport, err := s.reports.FindByID(context.Background(), report.ID)
	s.Require().NoError(err)
	s.Equal(reportmodels.StatusArchived, gotReport.Status)
	s.True(gotReport.IsArchived)
	_, err = os.Stat(report.File.Path)
	s.NoError(err, "archived reports keep their artifact")

	audited := s.cleanupEvents()
	s.Require().Len(audited, 1)
	s.Equal(admin.UserID, audited[0].ActorUserID())
	s.Equal(auditmodels.RiskHigh, audited[0].RiskLevel)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Runs.WithLabelValues(outcomeCompleted)))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Records.WithLabelValues(models.KindAuditEvent, string(models.ActionPurge))))

	again, err := s.manager().RunCleanup(ctx, &models.RunRequest{Confirm: true})
	s.Require().NoError(err)
	s.Zero(again.AffectedCount, "archived records are not expired again")
}

func (s *ManagerSuite) TestPurgePolicy() {
	regulated := s.seedEvent(8, 7, true)
	report := s.seedReport(8, true)

	rep, err := s.manager(WithPolicy(models.PolicyPurge)).RunUnattended(context.Background(), &models.RunRequest{Confirm: true})
	s.Require().NoError(err)
	s.Equal(models.Counts{Scanned: 1, Purged: 1}, rep.Events)
	s.Equal(models.Counts{Scanned: 1, Purged: 1}, rep.Reports)

	_, err = s.events.FindByID(context.Background(), regulated.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.archive.Get(context.Background(), models.KindAuditEvent, regulated.ID.String())
	s.NoError(err, "regulated events keep a cold copy")

	_, err = s.reports.FindByID(context.Background(), report.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	cold, err := s.archive.Get(context.Background(), models.KindReport, report.ID.String())
	s.Require().NoError(err)
	s.Equal(report.File.Hash, cold.Checksum)
	_, err = os.Stat(report.File.Path)
	s.True(errors.Is(err, os.ErrNotExist))

	audited := s.cleanupEvents()
	s.Require().Len(audited, 1)
	s.Nil(audited[0].Actor)
}

func (s *ManagerSuite) TestPagesThroughBatches() {
	for range 5 {
		s.seedEvent(3, 1, false)
	}
	rep, err := s.manager(WithBatchSize(2)).RunUnattended(context.Background(), &models.RunRequest{Confirm: true})
	s.Require().NoError(err)
	s.Equal(models.Counts{Scanned: 5, Purged: 5}, rep.Events)
	s.Equal(1, s.events.Count(), "only the cleanup audit event remains")
}

func (s *ManagerSuite) TestLockContention() {
	held, err := s.locker.Acquire(context.Background(), lockKey, time.Hour)
	s.Require().NoError(err)
	s.seedEvent(2, 1, false)

	_, err = s.manager().RunUnattended(context.Background(), &models.RunRequest{Confirm: true})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Runs.WithLabelValues(outcomeLocked)))

	rep, err := s.manager().RunUnattended(context.Background(), &models.RunRequest{DryRun: true})
	s.Require().NoError(err, "dry runs do not take the lock")
	s.Equal(1, rep.Events.Purged)

	s.Require().NoError(s.locker.Release(context.Background(), held))
	_, err = s.manager().RunUnattended(context.Background(), &models.RunRequest{Confirm: true})
	s.Require().NoError(err)

	again, err := s.locker.Acquire(context.Background(), lockKey, time.Hour)
	s.Require().NoError(err, "a finished run releases the lock")
	s.Require().NoError(s.locker.Release(context.Background(), again))
}

func (s *ManagerSuite) TestFailureIsolation() {
	ctrl := gomock.NewController(s.T())
	events := mocks.NewMockEventStore(ctrl)
	reports := mocks.NewMockReportStore(ctrl)
	cold := mocks.NewMockArchiver(ctrl)

	first := &auditmodels.AuditEvent{ID: id.NewEventID(), RequiresRetention: true, RetentionYears: 7, CreatedAt: s.now.AddDate(-9, 0, 0)}
	second := &auditmodels.AuditEvent{ID: id.NewEventID(), RequiresRetention: true, RetentionYears: 7, CreatedAt: s.now.AddDate(-8, 0, 0)}

	events.EXPECT().ListExpired(gomock.Any(), s.now, nil, defaultBatchSize).Return([]*auditmodels.AuditEvent{first, second}, nil)
	cold.EXPECT().ArchiveEvent(gomock.Any(), first, s.now).Return(errors.New("disk full"))
	cold.EXPECT().ArchiveEvent(gomock.Any(), second, s.now).Return(nil)
	events.EXPECT().MarkArchived(gomock.Any(), second.ID, s.now).Return(nil)
	reports.EXPECT().ListExpired(gomock.Any(), s.now, nil, defaultBatchSize).Return(nil, nil)

	m := New(events, reports, cold, s.locker, authz.NewRoleChecker(nil),
		WithLogger(discard()),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
	)
	rep, err := m.RunUnattended(context.Background(), &models.RunRequest{Confirm: true})
	s.Require().NoError(err)
	s.Equal(models.Counts{Scanned: 2, Archived: 1, Failed: 1}, rep.Events)
	s.Equal(1, rep.AffectedCount)
	s.Require().Len(rep.Details, 2)
	s.Equal("disk full", rep.Details[0].Error)
	s.Empty(rep.Details[1].Error)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Runs.WithLabelValues(outcomePartial)))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Records.WithLabelValues(models.KindAuditEvent, outcomeFailed)))
}

func (s *ManagerSuite) TestListFailureAborts() {
	ctrl := gomock.NewController(s.T())
	events := mocks.NewMockEventStore(ctrl)
	reports := mocks.NewMockReportStore(ctrl)

	events.EXPECT().ListExpired(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

	m := New(events, reports, mocks.NewMockArchiver(ctrl), s.locker, authz.NewRoleChecker(nil),
		WithLogger(discard()),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
		WithRecorder(s.audit),
	)
	rep, err := m.RunUnattended(context.Background(), &models.RunRequest{Confirm: true})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Require().NotNil(rep)
	s.Zero(rep.AffectedCount)

	audited := s.cleanupEvents()
	s.Require().Len(audited, 1)
	s.Contains(audited[0].NewValues, "aborted")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Runs.WithLabelValues(outcomeFailed)))
}

func (s *ManagerSuite) TestDetailsAreCapped() {
	events := make([]*auditmodels.AuditEvent, 0, maxDetails+1)
	for range maxDetails + 1 {
		events = append(events, s.seedEvent(3, 1, false))
	}
	rep, err := s.manager(WithBatchSize(400)).RunUnattended(context.Background(), &models.RunRequest{DryRun: true})
	s.Require().NoError(err)
	s.Equal(len(events), rep.Events.Scanned)
	s.Len(rep.Details, maxDetails)
	s.True(rep.DetailsTruncated)
}

func (s *ManagerSuite) TestSchedulerRunsImmediately() {
	s.seedEvent(2, 1, false)
	sched := NewScheduler(s.manager(), time.Hour)
	sched.Start(context.Background())
	defer sched.Stop()

	s.Require().Eventually(func() bool {
		done, err := s.events.List(context.Background(), auditmodels.EventFilter{EventTypes: []string{auditmodels.EventRetentionCleanupExecuted}}, nil, 0, time.Time{})
		return err == nil && len(done) == 1
	}, 5*time.Second, 10*time.Millisecond)
	s.Equal(1, s.events.Count())

	sched.Stop()
	sched.Stop()
}
