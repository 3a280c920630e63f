package models

import (
	"encoding/base64"
	"strings"
	"time"

	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
)

// ReportFilter selects reports for the dashboard listing. From and To bound
// created_at; From is inclusive and To exclusive.
type ReportFilter struct {
	ReportType      string
	Status          Status
	ReviewStatus    ReviewStatus
	From            *time.Time
	To              *time.Time
	IncludeArchived bool
}

// Matches applies the filter to one report.
func (f ReportFilter) Matches(r *ComplianceReport) bool {
	if f.ReportType != "" && r.ReportType != f.ReportType {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ReviewStatus != "" && r.ReviewStatus != f.ReviewStatus {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.CreatedAt.Before(*f.To) {
		return false
	}
	if !f.IncludeArchived && f.Status != StatusArchived && r.IsArchived {
		return false
	}
	return true
}

// Cursor marks the last report of a page in (created_at DESC, id DESC) order.
type Cursor struct {
	CreatedAt time.Time
	ID        id.ReportID
}

// After reports whether r sorts strictly after the cursor position.
func (c Cursor) After(r *ComplianceReport) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return strings.Compare(r.ID.String(), c.ID.String()) < 0
	}
	return r.CreatedAt.Before(c.CreatedAt)
}

func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. Empty yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	invalid := dErrors.NewField(dErrors.CodeValidation, "cursor", "invalid cursor")
	if len(token) > 256 {
		return nil, invalid
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid
	}
	ts, idPart, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, invalid
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, invalid
	}
	reportID, err := id.ParseReportID(idPart)
	if err != nil {
		return nil, invalid
	}
	return &Cursor{CreatedAt: createdAt, ID: reportID}, nil
}

func CursorFor(r *ComplianceReport) Cursor {
	return Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// Page is one slice of the report listing.
type Page struct {
	Reports    []*ComplianceReport `json:"reports"`
	NextCursor string              `json:"next_cursor,omitempty"`
}
