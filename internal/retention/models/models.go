// Package models defines retention cleanup requests and their results.
package models

import (
	"strings"
	"time"

	dErrors "pharmaudit/pkg/domain-errors"
)

// Policy decides what happens to an expired record that must be retained.
type Policy string

const (
	PolicyArchive Policy = "archive"
	PolicyPurge   Policy = "purge"
)

func ParsePolicy(raw string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PolicyArchive, PolicyPurge:
		return p, nil
	case "":
		return PolicyArchive, nil
	}
	return "", dErrors.NewField(dErrors.CodeValidation, "policy", "policy must be archive or purge")
}

// Action is what cleanup did, or would do, to one record.
type Action string

const (
	ActionArchive Action = "archive"
	ActionPurge   Action = "purge"
)

// Record kinds.
const (
	KindAuditEvent = "audit_event"
	KindReport     = "compliance_report"
)

// RunRequest starts a cleanup. Destructive runs must be confirmed.
type RunRequest struct {
	DryRun  bool `json:"dry_run"`
	Confirm bool `json:"confirm"`
}

func (r *RunRequest) Normalize() {}

func (r *RunRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if !r.DryRun && !r.Confirm {
		return dErrors.NewField(dErrors.CodeValidation, "confirm", "confirm must be true for a cleanup that is not a dry run")
	}
	return nil
}

// Counts tallies one record kind. Archived and Purged hold planned actions
// on a dry run.
type Counts struct {
	Scanned  int `json:"scanned"`
	Archived int `json:"archived"`
	Purged   int `json:"purged"`
	Failed   int `json:"failed"`
}

// Affected is the number of records changed, or that would change.
func (c Counts) Affected() int {
	return c.Archived + c.Purged
}

// Detail describes the outcome for one record.
type Detail struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
	ExpiredAt time.Time `json:"expired_at"`
	Error     string    `json:"error,omitempty"`
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	AsOf             time.Time `json:"as_of"`
	DryRun           bool      `json:"dry_run"`
	Policy           Policy    `json:"policy"`
	Events           Counts    `json:"events"`
	Reports          Counts    `json:"reports"`
	AffectedCount    int       `json:"affected_count"`
	Details          []Detail  `json:"details"`
	DetailsTruncated bool      `json:"details_truncated,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Failed is the number of records that could not be processed.
func (r *CleanupReport) Failed() int {
	return r.Events.Failed + r.Reports.Failed
}
