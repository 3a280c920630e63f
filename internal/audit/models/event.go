// Package models defines the audit trail's record and request types.
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	id "pharmaudit/pkg/domain"
)

// Entity references the business object an event is about.
type Entity struct {
	Type       string `json:"type,omitempty"`
	ID         string `json:"id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// Actor is whoever performed the action. A nil actor means the system.
type Actor struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

// RequestInfo is the HTTP context the action happened in.
type RequestInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Route     string `json:"route,omitempty"`
	Method    string `json:"method,omitempty"`
	URL       string `json:"url,omitempty"`
}

// AuditEvent is an immutable record of one sensitive action. Only the
// verification and archival fields change after it is stored.
type AuditEvent struct {
	ID                    id.EventID         `json:"id"`
	EventType             string             `json:"event_type"`
	Entity                Entity             `json:"entity"`
	Actor                 *Actor             `json:"actor,omitempty"`
	Request               RequestInfo        `json:"request"`
	OldValues             map[string]any     `json:"old_values,omitempty"`
	NewValues             map[string]any     `json:"new_values,omitempty"`
	Metadata              map[string]any     `json:"metadata,omitempty"`
	IsPHIAccess           bool               `json:"is_phi_access"`
	IsControlledSubstance bool               `json:"is_controlled_substance"`
	IsFinancialData       bool               `json:"is_financial_data"`
	RequiresRetention     bool               `json:"requires_retention"`
	RetentionYears        int                `json:"retention_years"`
	Checksum              string             `json:"checksum"`
	IsVerified            bool               `json:"is_verified"`
	VerifiedAt            *time.Time         `json:"verified_at,omitempty"`
	RiskLevel             RiskLevel          `json:"risk_level"`
	DataClassification    DataClassification `json:"data_classification"`
	AccessGranted         bool               `json:"access_granted"`
	ResponseStatus        *int               `json:"response_status,omitempty"`
	IsArchived            bool               `json:"is_archived"`
	ArchivedAt            *time.Time         `json:"archived_at,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
}

// ActorUserID returns the actor's id or "" for system events.
func (e *AuditEvent) ActorUserID() string {
	if e.Actor == nil {
		return ""
	}
	return e.Actor.UserID
}

// RetentionExpiresAt is the first instant the event may be cleaned up.
func (e *AuditEvent) RetentionExpiresAt() time.Time {
	return id.AddYears(e.CreatedAt, e.RetentionYears)
}

// IsExpired reports whether the event is outside its retention window at asOf.
func (e *AuditEvent) IsExpired(asOf time.Time) bool {
	if e.IsArchived || e.RetentionYears <= 0 {
		return false
	}
	return !e.RetentionExpiresAt().After(asOf)
}

// Clone returns a deep enough copy for stores to hand out without aliasing.
func (e *AuditEvent) Clone() *AuditEvent {
	c := *e
	if e.Actor != nil {
		a := *e.Actor
		c.Actor = &a
	}
	if e.VerifiedAt != nil {
		t := *e.VerifiedAt
		c.VerifiedAt = &t
	}
	if e.ArchivedAt != nil {
		t := *e.ArchivedAt
		c.ArchivedAt = &t
	}
	if e.ResponseStatus != nil {
		s := *e.ResponseStatus
		c.ResponseStatus = &s
	}
	c.OldValues = cloneMap(e.OldValues)
	c.NewValues = cloneMap(e.NewValues)
	c.Metadata = cloneMap(e.Metadata)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	out, err := DecodeValues(raw)
	if err != nil {
		return m
	}
	return out
}

// DecodeValues decodes a JSON object keeping numbers as json.Number so that
// re-encoding yields the same bytes.
func DecodeValues(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeValues round-trips m through JSON so that in-memory values match
// what a store returns after persisting them.
func NormalizeValues(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return DecodeValues(raw)
}

// OpaqueID accepts either a JSON string or a JSON number and stores it as
// text. Collaborators identify entities and users with integers or strings.
type OpaqueID string

func (o *OpaqueID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*o = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = OpaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*o = OpaqueID(n.String())
	return nil
}

func (o OpaqueID) String() string { return string(o) }
