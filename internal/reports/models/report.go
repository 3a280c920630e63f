// Package models defines compliance reports and their lifecycle.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "pharmaudit/pkg/domain"
)

// Well-known report types. The analysis registry accepts others.
const (
	TypeHIPAAAccess             = "hipaa_access"
	TypeDEAControlledSubstances = "dea_controlled_substances"
	TypePCICompliance           = "pci_compliance"
	TypeAuditTrail              = "audit_trail"
	TypeDataRetention           = "data_retention"
	TypeUserAccess              = "user_access"
	TypeSecurityIncidents       = "security_incidents"
	TypeFailedLogins            = "failed_logins"
	TypeDataExports             = "data_exports"
	TypePrescriptionMonitoring  = "prescription_monitoring"
)

// ComplianceReport is one generation attempt and its outcome.
type ComplianceReport struct {
	ID          id.ReportID `json:"id"`
	ReportType  string      `json:"report_type"`
	ReportName  string      `json:"report_name"`
	Description string      `json:"description,omitempty"`
	Framework   string      `json:"framework,omitempty"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	Parameters  Parameters  `json:"parameters"`
	Status      Status      `json:"status"`

	Summary          *Summary  `json:"summary_data,omitempty"`
	DetailedFindings []Finding `json:"detailed_findings,omitempty"`
	Violations       []Finding `json:"violations,omitempty"`
	Recommendations  []string  `json:"recommendations,omitempty"`
	File             *Artifact `json:"file,omitempty"`

	GenerationStartedAt   *time.Time       `json:"generation_started_at,omitempty"`
	GenerationCompletedAt *time.Time       `json:"generation_completed_at,omitempty"`
	GenerationTimeSeconds *decimal.Decimal `json:"generation_time_seconds,omitempty"`
	ComplianceScore       *decimal.Decimal `json:"compliance_score,omitempty"`
	RecordsAnalyzed       int              `json:"records_analyzed"`
	ViolationsCount       int              `json:"violations_count"`
	WarningsCount         int              `json:"warnings_count"`
	ExceptionsCount       int              `json:"exceptions_count"`

	RequiresRetention bool       `json:"requires_retention"`
	RetentionYears    int        `json:"retention_years"`
	IsArchived        bool       `json:"is_archived"`
	ArchivedAt        *time.Time `json:"archived_at,omitempty"`

	ReviewStatus ReviewStatus `json:"review_status"`
	ReviewedBy   string       `json:"reviewed_by,omitempty"`
	ReviewerName string       `json:"reviewer_name,omitempty"`
	ReviewNotes  string       `json:"review_notes,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`

	DistributionList []string            `json:"distribution_list,omitempty"`
	DistributionLog  []DistributionEntry `json:"distribution_log,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	GeneratedBy  string    `json:"generated_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Parameters are the inputs that shaped a generation run.
type Parameters struct {
	Format    Format   `json:"format"`
	Filters   *Filters `json:"filters,omitempty"`
	Scheduled bool     `json:"scheduled,omitempty"`
}

// Filters narrow the events a report analyses beyond its type predicate.
type Filters struct {
	EventTypes   []string `json:"event_types,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	EntityType   string   `json:"entity_type,omitempty"`
	MinRiskLevel string   `json:"min_risk_level,omitempty"`
}

// Artifact references the exported file.
type Artifact struct {
	Path   string `json:"path"`
	Format Format `json:"format"`
	Size   int64  `json:"size"`
	Hash   string `json:"hash"`
}

// DistributionEntry records one delivery attempt of a completed report.
type DistributionEntry struct {
	Recipient string    `json:"recipient"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Delivery is the notice sent to one recipient of a completed report.
type Delivery struct {
	ReportID        string    `json:"report_id"`
	ReportType      string    `json:"report_type"`
	ReportName      string    `json:"report_name"`
	Framework       string    `json:"framework,omitempty"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	ComplianceScore string    `json:"compliance_score"`
	ViolationsCount int       `json:"violations_count"`
	Format          string    `json:"format"`
	FileHash        string    `json:"file_hash"`
	Recipient       string    `json:"recipient"`
}

// Delivery statuses written to the distribution log.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// RetentionExpiresAt is the first instant the report may be archived.
func (r *ComplianceReport) RetentionExpiresAt() time.Time {
	return id.AddYears(r.CreatedAt, r.RetentionYears)
}

// IsExpired reports whether a finished report is past retention at asOf.
// Reports still pending or generating are never expired.
func (r *ComplianceReport) IsExpired(asOf time.Time) bool {
	if r.IsArchived || r.RetentionYears <= 0 || !r.Status.IsTerminal() {
		return false
	}
	return !r.RetentionExpiresAt().After(asOf)
}

// Reviewable reports whether the review workflow may act on the report.
func (r *ComplianceReport) Reviewable() bool {
	return r.Status == StatusCompleted && r.ReviewStatus == ReviewPending
}

// Clone copies the report so stores never share mutable state with callers.
func (r *ComplianceReport) Clone() *ComplianceReport {
	c := *r
	c.DetailedFindings = cloneFindings(r.DetailedFindings)
	c.Violations = cloneFindings(r.Violations)
	c.Recommendations = append([]string(nil), r.Recommendations...)
	c.DistributionList = append([]string(nil), r.DistributionList...)
	c.DistributionLog = append([]DistributionEntry(nil), r.DistributionLog...)
	c.Summary = r.Summary.Clone()
	if r.File != nil {
		f := *r.File
		c.File = &f
	}
	if r.Parameters.Filters != nil {
		f := *r.Parameters.Filters
		f.EventTypes = append([]string(nil), f.EventTypes...)
		c.Parameters.Filters = &f
	}
	c.GenerationStartedAt = cloneTime(r.GenerationStartedAt)
	c.GenerationCompletedAt = cloneTime(r.GenerationCompletedAt)
	c.ArchivedAt = cloneTime(r.ArchivedAt)
	c.ReviewedAt = cloneTime(r.ReviewedAt)
	if r.ComplianceScore != nil {
		d := *r.ComplianceScore
		c.ComplianceScore = &d
	}
	if r.GenerationTimeSeconds != nil {
		d := *r.GenerationTimeSeconds
		c.GenerationTimeSeconds = &d
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFindings(in []Finding) []Finding {
	if in == nil {
		return nil
	}
	out := make([]Finding, len(in))
	for i, f := range in {
		f.EventIDs = append([]string(nil), f.EventIDs...)
		out[i] = f
	}
	return out
}
