package models

import (
	"regexp"
	"strings"
	"time"

	auditmodels "pharmaudit/internal/audit/models"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/email"
	pstrings "pharmaudit/pkg/platform/strings"
)

const (
	maxReportTypeLength  = 64
	maxReportNameLength  = 255
	maxFrameworkLength   = 100
	maxDescriptionLength = 2000
	maxDistribution      = 50
	maxFilterEventTypes  = 20
	maxReviewNotesLength = 4000
)

var reportTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// GenerateRequest asks for a new report over [period_start, period_end).
type GenerateRequest struct {
	ReportType       string   `json:"report_type"`
	ReportName       string   `json:"report_name"`
	Framework        string   `json:"framework,omitempty"`
	PeriodStart      string   `json:"period_start"`
	PeriodEnd        string   `json:"period_end"`
	Description      string   `json:"description,omitempty"`
	Format           string   `json:"format,omitempty"`
	Filters          *Filters `json:"filters,omitempty"`
	DistributionList []string `json:"distribution_list,omitempty"`

	// Populated by Validate.
	periodStart time.Time
	periodEnd   time.Time
	format      Format
}

// Normalize trims input and applies the JSON default format.
func (r *GenerateRequest) Normalize() {
	if r == nil {
		return
	}
	r.ReportType = strings.ToLower(strings.TrimSpace(r.ReportType))
	r.ReportName = strings.TrimSpace(r.ReportName)
	r.Framework = strings.TrimSpace(r.Framework)
	r.PeriodStart = strings.TrimSpace(r.PeriodStart)
	r.PeriodEnd = strings.TrimSpace(r.PeriodEnd)
	r.Description = strings.TrimSpace(r.Description)
	r.Format = strings.ToLower(strings.TrimSpace(r.Format))
	if r.Format == "" {
		r.Format = string(FormatJSON)
	}
	if r.Filters != nil {
		r.Filters.EventTypes = pstrings.Dedupe(r.Filters.EventTypes, strings.ToLower)
		r.Filters.UserID = strings.TrimSpace(r.Filters.UserID)
		r.Filters.EntityType = strings.TrimSpace(r.Filters.EntityType)
		r.Filters.MinRiskLevel = strings.ToLower(strings.TrimSpace(r.Filters.MinRiskLevel))
	}
}

// Validate checks size, then presence, then syntax, then semantics. The
// report type is checked against the analyzer registry by the service.
func (r *GenerateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	// Phase 1: size
	if len(r.ReportType) > maxReportTypeLength {
		return dErrors.NewField(dErrors.CodeValidation, "report_type", "report_type is too long")
	}
	if len(r.ReportName) > maxReportNameLength {
		return dErrors.NewField(dErrors.CodeValidation, "report_name", "report_name is too long")
	}
	if len(r.Framework) > maxFrameworkLength {
		return dErrors.NewField(dErrors.CodeValidation, "framework", "framework is too long")
	}
	if len(r.Description) > maxDescriptionLength {
		return dErrors.NewField(dErrors.CodeValidation, "description", "description is too long")
	}
	if len(r.DistributionList) > maxDistribution {
		return dErrors.NewField(dErrors.CodeValidation, "distribution_list", "distribution_list has too many recipients")
	}
	if r.Filters != nil && len(r.Filters.EventTypes) > maxFilterEventTypes {
		return dErrors.NewField(dErrors.CodeValidation, "filters.event_types", "too many event types")
	}

	// Phase 2: required
	if r.ReportType == "" {
		return dErrors.NewField(dErrors.CodeValidation, "report_type", "report_type is required")
	}
	if r.ReportName == "" {
		return dErrors.NewField(dErrors.CodeValidation, "report_name", "report_name is required")
	}

	// Phase 3: syntax
	if !reportTypePattern.MatchString(r.ReportType) {
		return dErrors.NewField(dErrors.CodeValidation, "report_type", "report_type must be a lowercase identifier")
	}
	start, err := id.ParseDate("period_start", r.PeriodStart)
	if err != nil {
		return err
	}
	end, err := id.ParseDate("period_end", r.PeriodEnd)
	if err != nil {
		return err
	}
	format, err := ParseFormat(r.Format)
	if err != nil {
		return err
	}
	if r.Filters != nil && r.Filters.MinRiskLevel != "" {
		if _, err := auditmodels.ParseRiskLevel(r.Filters.MinRiskLevel); err != nil {
			return dErrors.NewField(dErrors.CodeValidation, "filters.min_risk_level", "filters.min_risk_level must be one of low, medium, high, critical")
		}
	}
	recipients := make([]string, 0, len(r.DistributionList))
	for _, addr := range r.DistributionList {
		normalized, ok := email.Normalize(addr)
		if !ok {
			return dErrors.NewField(dErrors.CodeValidation, "distribution_list", "distribution_list contains an invalid address")
		}
		recipients = append(recipients, normalized)
	}
	r.DistributionList = pstrings.Dedupe(recipients, nil)

	// Phase 4: semantic
	if !start.Before(end) {
		return dErrors.NewField(dErrors.CodeValidation, "period_end", "period_start must be before period_end")
	}

	r.periodStart = start
	r.periodEnd = end
	r.format = format
	return nil
}

// Period returns the parsed half-open period. Valid after Validate.
func (r *GenerateRequest) Period() (time.Time, time.Time) {
	return r.periodStart, r.periodEnd
}

// ParsedFormat returns the export format. Valid after Validate.
func (r *GenerateRequest) ParsedFormat() Format {
	return r.format
}

// ReviewRequest is the reviewer's decision on a completed report.
type ReviewRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`

	action ReviewAction
}

func (r *ReviewRequest) Normalize() {
	if r == nil {
		return
	}
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	r.Notes = strings.TrimSpace(r.Notes)
}

// Validate requires notes when rejecting.
func (r *ReviewRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Notes) > maxReviewNotesLength {
		return dErrors.NewField(dErrors.CodeValidation, "notes", "notes are too long")
	}
	if r.Action == "" {
		return dErrors.NewField(dErrors.CodeValidation, "action", "action is required")
	}
	switch ReviewAction(r.Action) {
	case ActionApprove, ActionReject:
		r.action = ReviewAction(r.Action)
	default:
		return dErrors.NewField(dErrors.CodeValidation, "action", "action must be approve or reject")
	}
	if r.action == ActionReject && r.Notes == "" {
		return dErrors.NewField(dErrors.CodeValidation, "notes", "notes are required to reject a report")
	}
	return nil
}

// ParsedAction returns the decision. Valid after Validate.
func (r *ReviewRequest) ParsedAction() ReviewAction {
	return r.action
}

// EventFilter converts user filters to an audit filter. A nil receiver
// yields the zero filter.
func (f *Filters) EventFilter() auditmodels.EventFilter {
	if f == nil {
		return auditmodels.EventFilter{}
	}
	return auditmodels.EventFilter{
		EventTypes:   f.EventTypes,
		UserID:       f.UserID,
		EntityType:   f.EntityType,
		MinRiskLevel: auditmodels.RiskLevel(f.MinRiskLevel),
	}
}
