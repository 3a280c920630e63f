package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pharmaudit/internal/reports/models"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/requestcontext"
)

// Recurrence values accepted by Schedule.Every.
const (
	EveryDay   = "daily"
	EveryWeek  = "weekly"
	EveryMonth = "monthly"
)

// scheduledBy is the generated_by value of scheduled reports.
const scheduledBy = "system"

// Schedule asks for one report type over each previous whole period.
type Schedule struct {
	ReportType       string
	Framework        string
	Format           string
	Every            string
	DistributionList []string
}

// PreviousPeriod returns the last complete UTC day, ISO week or calendar
// month before now as a half-open range.
func PreviousPeriod(every string, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch every {
	case EveryDay:
		return today.AddDate(0, 0, -1), today, nil
	case EveryWeek:
		offset := (int(today.Weekday()) + 6) % 7
		monday := today.AddDate(0, 0, -offset)
		return monday.AddDate(0, 0, -7), monday, nil
	case EveryMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -1, 0), first, nil
	default:
		return time.Time{}, time.Time{}, dErrors.NewField(dErrors.CodeValidation, "every", "every must be daily, weekly or monthly")
	}
}

// Scheduler submits scheduled reports once per period. A period that
// already has a scheduled report, in any status, is skipped.
type Scheduler struct {
	service   *Service
	schedules []Schedule
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler validates the schedules against the service's registry.
func NewScheduler(svc *Service, schedules []Schedule, interval time.Duration) (*Scheduler, error) {
	for i, sc := range schedules {
		if _, _, err := PreviousPeriod(sc.Every, time.Now()); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if _, ok := svc.registry.Lookup(sc.ReportType); !ok {
			return nil, fmt.Errorf("schedule %d: unknown report type %q", i, sc.ReportType)
		}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{service: svc, schedules: schedules, interval: interval}, nil
}

// RunOnce submits every schedule whose previous period has no report yet
// and returns how many were submitted.
func (sc *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := sc.service.now()
	ctx = requestcontext.WithTime(ctx, now)
	submitted := 0
	for _, schedule := range sc.schedules {
		start, end, err := PreviousPeriod(schedule.Every, now)
		if err != nil {
			return submitted, err
		}
		exists, err := sc.exists(ctx, schedule.ReportType, start, end)
		if err != nil {
			return submitted, err
		}
		if exists {
			continue
		}
		req := &models.GenerateRequest{
			ReportType:       schedule.ReportType,
			ReportName:       fmt.Sprintf("%s %s %s", strings.ReplaceAll(schedule.ReportType, "_", " "), schedule.Every, start.Format(time.DateOnly)),
			Framework:        schedule.Framework,
			PeriodStart:      start.Format(time.RFC3339),
			PeriodEnd:        end.Format(time.RFC3339),
			Format:           schedule.Format,
			DistributionList: schedule.DistributionList,
		}
		r, err := sc.service.submit(ctx, req, scheduledBy, true)
		if err != nil {
			return submitted, fmt.Errorf("submit %s report: %w", schedule.ReportType, err)
		}
		submitted++
		sc.service.logger.InfoContext(ctx, "scheduled report submitted",
			"report_id", r.ID,
			"report_type", r.ReportType,
			"period_start", start,
			"period_end", end,
		)
	}
	return submitted, nil
}

func (sc *Scheduler) exists(ctx context.Context, reportType string, start, end time.Time) (bool, error) {
	reports, err := sc.service.store.List(ctx, models.ReportFilter{
		ReportType:      reportType,
		From:            &end,
		IncludeArchived: true,
	}, nil, 0)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list scheduled reports")
	}
	for _, r := range reports {
		if r.Parameters.Scheduled && r.PeriodStart.Equal(start) && r.PeriodEnd.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

// Start runs the schedules immediately and then on every interval until
// Stop or ctx cancellation. It returns immediately.
func (sc *Scheduler) Start(ctx context.Context) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.done != nil || len(sc.schedules) == 0 {
		return
	}
	ctx, sc.cancel = context.WithCancel(ctx)
	sc.done = make(chan struct{})
	go sc.loop(ctx)
	sc.service.logger.InfoContext(ctx, "report scheduler started",
		"schedules", len(sc.schedules),
		"interval", sc.interval,
	)
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	cancel, done := sc.cancel, sc.done
	sc.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (sc *Scheduler) loop(ctx context.Context) {
	defer close(sc.done)

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		if _, err := sc.RunOnce(ctx); err != nil {
			sc.service.logger.ErrorContext(ctx, "scheduled report run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
