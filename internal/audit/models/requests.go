package models

import (
	"encoding/json"
	"net"
	"regexp"
	"strings"

	dErrors "pharmaudit/pkg/domain-errors"
)

const (
	maxEventTypeLength = 100
	maxEntityLength    = 255
	maxActorLength     = 255
	maxUserAgentLength = 1024
	maxURLLength       = 2048
	maxValuesBytes     = 64 << 10
	maxRetentionYears  = 100
	minResponseStatus  = 100
	maxResponseStatus  = 599
)

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_.:-]*$`)

// ActorRequest is the inbound form of Actor.
type ActorRequest struct {
	UserID OpaqueID `json:"user_id"`
	Name   string   `json:"name,omitempty"`
	Type   string   `json:"type,omitempty"`
}

// RecordRequest is what a collaborating subsystem sends to record an event.
// Optional classification fields left nil are inferred.
type RecordRequest struct {
	EventType             string         `json:"event_type"`
	EntityType            string         `json:"entity_type,omitempty"`
	EntityID              OpaqueID       `json:"entity_id,omitempty"`
	EntityIdentifier      string         `json:"entity_identifier,omitempty"`
	Actor                 *ActorRequest  `json:"actor,omitempty"`
	IP                    string         `json:"ip,omitempty"`
	UserAgent             string         `json:"user_agent,omitempty"`
	SessionID             string         `json:"session_id,omitempty"`
	Route                 string         `json:"route,omitempty"`
	Method                string         `json:"method,omitempty"`
	URL                   string         `json:"url,omitempty"`
	OldValues             map[string]any `json:"old_values,omitempty"`
	NewValues             map[string]any `json:"new_values,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	IsPHIAccess           bool           `json:"is_phi_access,omitempty"`
	IsControlledSubstance bool           `json:"is_controlled_substance,omitempty"`
	IsFinancialData       bool           `json:"is_financial_data,omitempty"`
	RequiresRetention     *bool          `json:"requires_retention,omitempty"`
	RetentionYears        *int           `json:"retention_years,omitempty"`
	RiskLevel             string         `json:"risk_level,omitempty"`
	DataClassification    string         `json:"data_classification,omitempty"`
	AccessGranted         *bool          `json:"access_granted,omitempty"`
	ResponseStatus        *int           `json:"response_status,omitempty"`
}

// Normalize trims whitespace and lowercases enumerations.
func (r *RecordRequest) Normalize() {
	if r == nil {
		return
	}
	r.EventType = strings.ToLower(strings.TrimSpace(r.EventType))
	r.EntityType = strings.TrimSpace(r.EntityType)
	r.EntityID = OpaqueID(strings.TrimSpace(string(r.EntityID)))
	r.EntityIdentifier = strings.TrimSpace(r.EntityIdentifier)
	r.IP = strings.TrimSpace(r.IP)
	r.UserAgent = strings.TrimSpace(r.UserAgent)
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Route = strings.TrimSpace(r.Route)
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	r.URL = strings.TrimSpace(r.URL)
	r.RiskLevel = strings.ToLower(strings.TrimSpace(r.RiskLevel))
	r.DataClassification = strings.ToLower(strings.TrimSpace(r.DataClassification))
	if r.Actor != nil {
		r.Actor.UserID = OpaqueID(strings.TrimSpace(string(r.Actor.UserID)))
		r.Actor.Name = strings.TrimSpace(r.Actor.Name)
		r.Actor.Type = strings.TrimSpace(r.Actor.Type)
		if r.Actor.UserID == "" && r.Actor.Name == "" && r.Actor.Type == "" {
			r.Actor = nil
		}
	}
}

// Validate checks size, then presence, then syntax, then semantics.
func (r *RecordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	// Phase 1: size
	if len(r.EventType) > maxEventTypeLength {
		return dErrors.NewField(dErrors.CodeValidation, "event_type", "event_type is too long")
	}
	bounded := []struct {
		name  string
		value string
	}{
		{"entity_type", r.EntityType},
		{"entity_id", string(r.EntityID)},
		{"entity_identifier", r.EntityIdentifier},
		{"session_id", r.SessionID},
		{"route", r.Route},
	}
	for _, f := range bounded {
		if len(f.value) > maxEntityLength {
			return dErrors.NewField(dErrors.CodeValidation, f.name, f.name+" is too long")
		}
	}
	if r.Actor != nil && (len(r.Actor.UserID) > maxActorLength || len(r.Actor.Name) > maxActorLength || len(r.Actor.Type) > maxActorLength) {
		return dErrors.NewField(dErrors.CodeValidation, "actor", "actor fields are too long")
	}
	if len(r.UserAgent) > maxUserAgentLength {
		return dErrors.NewField(dErrors.CodeValidation, "user_agent", "user_agent is too long")
	}
	if len(r.URL) > maxURLLength {
		return dErrors.NewField(dErrors.CodeValidation, "url", "url is too long")
	}
	documents := []struct {
		name  string
		value map[string]any
	}{
		{"old_values", r.OldValues},
		{"new_values", r.NewValues},
		{"metadata", r.Metadata},
	}
	for _, d := range documents {
		if d.value == nil {
			continue
		}
		raw, err := json.Marshal(d.value)
		if err != nil {
			return dErrors.NewField(dErrors.CodeValidation, d.name, d.name+" must be JSON serializable")
		}
		if len(raw) > maxValuesBytes {
			return dErrors.NewField(dErrors.CodeValidation, d.name, d.name+" is too large")
		}
	}

	// Phase 2: required
	if r.EventType == "" {
		return dErrors.NewField(dErrors.CodeValidation, "event_type", "event_type is required")
	}
	if r.Actor != nil && r.Actor.UserID == "" {
		return dErrors.NewField(dErrors.CodeValidation, "actor.user_id", "actor.user_id is required when actor is present")
	}

	// Phase 3: syntax
	if !eventTypePattern.MatchString(r.EventType) {
		return dErrors.NewField(dErrors.CodeValidation, "event_type", "event_type must be a lowercase tag")
	}
	if r.IP != "" && net.ParseIP(r.IP) == nil {
		return dErrors.NewField(dErrors.CodeValidation, "ip", "ip must be an IPv4 or IPv6 address")
	}
	if r.RiskLevel != "" {
		if _, err := ParseRiskLevel(r.RiskLevel); err != nil {
			return err
		}
	}
	if r.DataClassification != "" {
		if _, err := ParseDataClassification(r.DataClassification); err != nil {
			return err
		}
	}

	// Phase 4: semantic
	if r.RetentionYears != nil && (*r.RetentionYears <= 0 || *r.RetentionYears > maxRetentionYears) {
		return dErrors.NewField(dErrors.CodeValidation, "retention_years", "retention_years must be a positive integer")
	}
	if r.ResponseStatus != nil && (*r.ResponseStatus < minResponseStatus || *r.ResponseStatus > maxResponseStatus) {
		return dErrors.NewField(dErrors.CodeValidation, "response_status", "response_status must be an HTTP status code")
	}
	return nil
}
