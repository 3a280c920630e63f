package models

import (
	"encoding/base64"
	"slices"
	"strings"
	"time"

	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
)

// EventFilter selects events for listing, reports and verification.
// From is inclusive and To exclusive. Archived events are excluded unless
// IncludeArchived is set.
type EventFilter struct {
	EventTypes         []string
	RiskLevel          RiskLevel
	MinRiskLevel       RiskLevel
	DataClassification DataClassification
	UserID             string
	EntityType         string
	From               *time.Time
	To                 *time.Time
	PHIOnly            bool
	ControlledOnly     bool
	FinancialOnly      bool
	FailedAccessOnly   bool
	IncludeArchived    bool
}

// Matches applies the filter to a single event.
func (f EventFilter) Matches(e *AuditEvent) bool {
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.MinRiskLevel != "" && e.RiskLevel.rank() < f.MinRiskLevel.rank() {
		return false
	}
	if f.DataClassification != "" && e.DataClassification != f.DataClassification {
		return false
	}
	if f.UserID != "" && e.ActorUserID() != f.UserID {
		return false
	}
	if f.EntityType != "" && !strings.EqualFold(e.Entity.Type, f.EntityType) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CreatedAt.Before(*f.To) {
		return false
	}
	if f.PHIOnly && !e.IsPHIAccess {
		return false
	}
	if f.ControlledOnly && !e.IsControlledSubstance {
		return false
	}
	if f.FinancialOnly && !e.IsFinancialData {
		return false
	}
	if f.FailedAccessOnly && e.AccessGranted {
		return false
	}
	if !f.IncludeArchived && e.IsArchived {
		return false
	}
	return true
}

// Narrow combines two filters; every condition of both must hold. Ranges
// intersect and event type sets intersect when both are given.
func (f EventFilter) Narrow(o EventFilter) EventFilter {
	out := f
	switch {
	case len(f.EventTypes) == 0:
		out.EventTypes = o.EventTypes
	case len(o.EventTypes) > 0:
		out.EventTypes = nil
		for _, t := range f.EventTypes {
			if slices.Contains(o.EventTypes, t) {
				out.EventTypes = append(out.EventTypes, t)
			}
		}
		if len(out.EventTypes) == 0 {
			// Disjoint sets match nothing.
			out.EventTypes = []string{""}
		}
	}
	if out.RiskLevel == "" {
		out.RiskLevel = o.RiskLevel
	}
	if o.MinRiskLevel != "" {
		out.MinRiskLevel = out.MinRiskLevel.AtLeast(o.MinRiskLevel)
	}
	if out.DataClassification == "" {
		out.DataClassification = o.DataClassification
	}
	if out.UserID == "" {
		out.UserID = o.UserID
	}
	if out.EntityType == "" {
		out.EntityType = o.EntityType
	}
	if o.From != nil && (out.From == nil || o.From.After(*out.From)) {
		out.From = o.From
	}
	if o.To != nil && (out.To == nil || o.To.Before(*out.To)) {
		out.To = o.To
	}
	out.PHIOnly = f.PHIOnly || o.PHIOnly
	out.ControlledOnly = f.ControlledOnly || o.ControlledOnly
	out.FinancialOnly = f.FinancialOnly || o.FinancialOnly
	out.FailedAccessOnly = f.FailedAccessOnly || o.FailedAccessOnly
	out.IncludeArchived = f.IncludeArchived && o.IncludeArchived
	return out
}

// Cursor marks the last row of a page in (created_at DESC, id DESC) order.
type Cursor struct {
	CreatedAt time.Time
	ID        id.EventID
}

// After reports whether e sorts strictly after the cursor position.
func (c Cursor) After(e *AuditEvent) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return strings.Compare(e.ID.String(), c.ID.String()) < 0
	}
	return e.CreatedAt.Before(c.CreatedAt)
}

// Encode returns the opaque token handed to clients.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode.
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
	eventID, err := id.ParseEventID(idPart)
	if err != nil {
		return nil, invalid
	}
	return &Cursor{CreatedAt: createdAt, ID: eventID}, nil
}

// CursorFor positions a cursor at e.
func CursorFor(e *AuditEvent) Cursor {
	return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// Page is one slice of a listing.
type Page struct {
	Events     []*AuditEvent `json:"events"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Stats are dashboard counters for a period.
type Stats struct {
	From                 *time.Time     `json:"from,omitempty"`
	To                   *time.Time     `json:"to,omitempty"`
	Total                int            `json:"total"`
	ByRiskLevel          map[string]int `json:"by_risk_level"`
	ByDataClassification map[string]int `json:"by_data_classification"`
	ByEventType          map[string]int `json:"by_event_type"`
	PHIAccess            int            `json:"phi_access"`
	ControlledSubstance  int            `json:"controlled_substance"`
	Financial            int            `json:"financial"`
	FailedAccess         int            `json:"failed_access"`
	Verified             int            `json:"verified"`
}

// NewStats returns zeroed stats with every enum bucket present.
func NewStats() *Stats {
	s := &Stats{
		ByRiskLevel:          make(map[string]int),
		ByDataClassification: make(map[string]int),
		ByEventType:          make(map[string]int),
	}
	for _, r := range riskOrder {
		s.ByRiskLevel[string(r)] = 0
	}
	for _, c := range DataClassifications() {
		s.ByDataClassification[string(c)] = 0
	}
	return s
}

// Add counts one event.
func (s *Stats) Add(e *AuditEvent) {
	s.Total++
	s.ByRiskLevel[string(e.RiskLevel)]++
	s.ByDataClassification[string(e.DataClassification)]++
	s.ByEventType[e.EventType]++
	if e.IsPHIAccess {
		s.PHIAccess++
	}
	if e.IsControlledSubstance {
		s.ControlledSubstance++
	}
	if e.IsFinancialData {
		s.Financial++
	}
	if !e.AccessGranted {
		s.FailedAccess++
	}
	if e.IsVerified {
		s.Verified++
	}
}

// VerificationResult is the outcome of re-checking one event.
type VerificationResult struct {
	EventID    id.EventID `json:"event_id"`
	Valid      bool       `json:"valid"`
	Checksum   string     `json:"checksum"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// RangeVerification summarises a period scan.
type RangeVerification struct {
	From       time.Time    `json:"from"`
	To         time.Time    `json:"to"`
	Checked    int          `json:"checked"`
	Verified   int          `json:"verified"`
	Mismatched []id.EventID `json:"mismatched"`
}
