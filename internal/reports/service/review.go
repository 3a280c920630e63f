package service

import (
	"context"
	"errors"

	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/authz"
	"pharmaudit/internal/reports/models"
	"pharmaudit/internal/reports/store"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/sentinel"
	"pharmaudit/pkg/requestcontext"
)

// Review approves or rejects a completed report awaiting review. It never
// regenerates the report.
func (s *Service) Review(ctx context.Context, reportID id.ReportID, req *models.ReviewRequest) (*models.ComplianceReport, error) {
	caller, err := authz.RequireFromContext(ctx, s.checker, authz.CapReportsReview)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r, err := s.load(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !r.Reviewable() {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			"report cannot be reviewed: status "+string(r.Status)+", review "+string(r.ReviewStatus))
	}
	if s.segregateDuties && r.GeneratedBy != "" && r.GeneratedBy == caller.UserID {
		return nil, dErrors.New(dErrors.CodeForbidden, "reports cannot be reviewed by the user who generated them")
	}

	now := s.now()
	next := r.Clone()
	next.ReviewStatus = req.ParsedAction().Outcome()
	next.ReviewedBy = caller.UserID
	next.ReviewerName = caller.Name
	next.ReviewNotes = req.Notes
	next.ReviewedAt = &now
	next.UpdatedAt = now
	err = s.store.Update(ctx, next, store.Guard{Status: models.StatusCompleted, ReviewStatus: models.ReviewPending})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "report was reviewed concurrently")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save review")
	}

	s.metrics.IncrementReview(string(next.ReviewStatus))
	s.logger.InfoContext(ctx, "report reviewed",
		"report_id", next.ID,
		"review_status", next.ReviewStatus,
		"reviewed_by", next.ReviewedBy,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.recordActivity(ctx, next, auditmodels.EventReportReviewed, map[string]any{
		"review_status": string(next.ReviewStatus),
		"review_notes":  next.ReviewNotes,
	})
	return next, nil
}
