// Package store persists compliance reports.
package store

import (
	"context"
	"time"

	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
)

// Guard is the state a report must still be in for an Update to apply.
// Empty fields are not checked.
type Guard struct {
	Status       models.Status
	ReviewStatus models.ReviewStatus
}

func (g Guard) holds(r *models.ComplianceReport) bool {
	if g.Status != "" && r.Status != g.Status {
		return false
	}
	if g.ReviewStatus != "" && r.ReviewStatus != g.ReviewStatus {
		return false
	}
	return true
}

// Store is implemented by InMemory and Postgres.
type Store interface {
	Create(ctx context.Context, r *models.ComplianceReport) error
	FindByID(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, error)
	// Update replaces the mutable columns when guard holds and the status
	// change is a permitted transition. Otherwise it yields
	// sentinel.ErrInvalidState. The distribution log is left as stored.
	Update(ctx context.Context, r *models.ComplianceReport, guard Guard) error
	// AppendDistribution adds delivery attempts to the log and touches
	// updated_at. No other column is written.
	AppendDistribution(ctx context.Context, reportID id.ReportID, entries []models.DistributionEntry, at time.Time) error
	List(ctx context.Context, filter models.ReportFilter, cursor *models.Cursor, limit int) ([]*models.ComplianceReport, error)
	ListExpired(ctx context.Context, asOf time.Time, after *models.Cursor, limit int) ([]*models.ComplianceReport, error)
	MarkArchived(ctx context.Context, reportID id.ReportID, at time.Time) error
	Delete(ctx context.Context, reportID id.ReportID) error
}
