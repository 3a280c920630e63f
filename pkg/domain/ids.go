// Package domain holds typed identifiers shared across modules. Keeping events
// and reports in distinct types stops one from being passed where the other is
// expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "pharmaudit/pkg/domain-errors"
)

// EventID identifies an AuditEvent. New IDs are UUIDv7 so they sort by time.
type EventID uuid.UUID

// ReportID identifies a ComplianceReport.
type ReportID uuid.UUID

// NewEventID returns a time-ordered event identifier.
func NewEventID() EventID { return EventID(mustV7()) }

// NewReportID returns a time-ordered report identifier.
func NewReportID() ReportID { return ReportID(mustV7()) }

func mustV7() uuid.UUID {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return u
}

func (id EventID) String() string  { return uuid.UUID(id).String() }
func (id EventID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ReportID) String() string { return uuid.UUID(id).String() }
func (id ReportID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id EventID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ReportID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ReportID) UnmarshalText(b []byte) error {
	parsed, err := ParseReportID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEventID validates an event identifier at a trust boundary.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event id")
	return EventID(u), err
}

// ParseReportID validates a report identifier at a trust boundary.
func ParseReportID(s string) (ReportID, error) {
	u, err := parseUUID(s, "report id")
	return ReportID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
