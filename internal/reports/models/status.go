package models

import (
	"slices"
	"strings"

	dErrors "pharmaudit/pkg/domain-errors"
)

// Status is the generation lifecycle of a report.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusArchived   Status = "archived"
)

// transitions lists the permitted forward moves. Nothing leaves archived.
var transitions = map[Status][]Status{
	StatusPending:    {StatusGenerating, StatusFailed},
	StatusGenerating: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusArchived},
	StatusFailed:     {StatusArchived},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusGenerating, StatusCompleted, StatusFailed, StatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Predecessors lists, in lifecycle order, the statuses a report may hold
// immediately before s. s itself is included so writes that keep the status
// are allowed.
func (s Status) Predecessors() []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusGenerating, StatusCompleted, StatusFailed, StatusArchived} {
		if from == s || from.CanTransitionTo(s) {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal is true for the two outcomes of a generation attempt.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", dErrors.NewField(dErrors.CodeValidation, "status", "status must be one of pending, generating, completed, failed, archived")
	}
	return s, nil
}

// ReviewStatus is the outcome of the officer review.
type ReviewStatus string

const (
	ReviewPending     ReviewStatus = "pending"
	ReviewUnderReview ReviewStatus = "under_review"
	ReviewApproved    ReviewStatus = "approved"
	ReviewRejected    ReviewStatus = "rejected"
)

// IsValid accepts under_review for rows written by older tooling; the
// workflow never produces it.
func (r ReviewStatus) IsValid() bool {
	switch r {
	case ReviewPending, ReviewUnderReview, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

// ReviewAction is what a reviewer decides.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
)

// Outcome maps an action to the review status it produces.
func (a ReviewAction) Outcome() ReviewStatus {
	if a == ActionReject {
		return ReviewRejected
	}
	return ReviewApproved
}

// Format is an artifact serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
	FormatPDF  Format = "pdf"
)

// Formats lists every supported export format.
func Formats() []Format {
	return []Format{FormatJSON, FormatCSV, FormatXML, FormatPDF}
}

func (f Format) IsValid() bool {
	return slices.Contains(Formats(), f)
}

// Extension is the file suffix for the format.
func (f Format) Extension() string { return string(f) }

// ContentType is the MIME type served on download.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXML:
		return "application/xml"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	if !f.IsValid() {
		return "", dErrors.NewField(dErrors.CodeValidation, "format", "format must be one of json, csv, xml, pdf")
	}
	return f, nil
}
