package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
	"pharmaudit/pkg/platform/sentinel"
)

// InMemory keeps reports in a mutex-guarded map.
type InMemory struct {
	mu      sync.RWMutex
	reports map[id.ReportID]*models.ComplianceReport
}

func NewInMemory() *InMemory {
	return &InMemory{reports: make(map[id.ReportID]*models.ComplianceReport)}
}

func (s *InMemory) Create(_ context.Context, r *models.ComplianceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[r.ID]; exists {
		return sentinel.ErrConflict
	}
	s.reports[r.ID] = r.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, reportID id.ReportID) (*models.ComplianceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemory) Update(_ context.Context, r *models.ComplianceReport, guard Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reports[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !guard.holds(current) {
		return sentinel.ErrInvalidState
	}
	if r.Status != current.Status && !current.Status.CanTransitionTo(r.Status) {
		return sentinel.ErrInvalidState
	}
	next := r.Clone()
	next.CreatedAt = current.CreatedAt
	next.DistributionLog = current.DistributionLog
	s.reports[r.ID] = next
	return nil
}

func (s *InMemory) AppendDistribution(_ context.Context, reportID id.ReportID, entries []models.DistributionEntry, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return sentinel.ErrNotFound
	}
	r.DistributionLog = slices.Concat(r.DistributionLog, entries)
	r.UpdatedAt = at
	return nil
}

// List returns reports newest first, strictly after cursor.
func (s *InMemory) List(_ context.Context, filter models.ReportFilter, cursor *models.Cursor, limit int) ([]*models.ComplianceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ComplianceReport
	for _, r := range s.reports {
		if cursor != nil && !cursor.After(r) {
			continue
		}
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *models.ComplianceReport) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
	return cloneAll(truncate(out, limit)), nil
}

// ListExpired returns finished, unarchived reports past retention at asOf,
// oldest first, strictly after the given position.
func (s *InMemory) ListExpired(_ context.Context, asOf time.Time, after *models.Cursor, limit int) ([]*models.ComplianceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ComplianceReport
	for _, r := range s.reports {
		if !r.IsExpired(asOf) {
			continue
		}
		if after != nil && !ascendingAfter(*after, r) {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *models.ComplianceReport) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return cloneAll(truncate(out, limit)), nil
}

func ascendingAfter(c models.Cursor, r *models.ComplianceReport) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return strings.Compare(r.ID.String(), c.ID.String()) > 0
	}
	return r.CreatedAt.After(c.CreatedAt)
}

// MarkArchived moves a finished report to archived. Missing or already
// archived reports return ErrNotFound; reports still in flight return
// ErrInvalidState.
func (s *InMemory) MarkArchived(_ context.Context, reportID id.ReportID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok || r.IsArchived {
		return sentinel.ErrNotFound
	}
	if !r.Status.CanTransitionTo(models.StatusArchived) {
		return sentinel.ErrInvalidState
	}
	r.Status = models.StatusArchived
	r.IsArchived = true
	r.ArchivedAt = &at
	r.UpdatedAt = at
	return nil
}

func (s *InMemory) Delete(_ context.Context, reportID id.ReportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[reportID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.reports, reportID)
	return nil
}

func truncate(in []*models.ComplianceReport, limit int) []*models.ComplianceReport {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func cloneAll(in []*models.ComplianceReport) []*models.ComplianceReport {
	out := make([]*models.ComplianceReport, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
