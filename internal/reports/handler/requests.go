package handler

import (
	"net/url"
	"strconv"
	"strings"

	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
)

const maxQueryValueLength = 255

type listQuery struct {
	Filter models.ReportFilter
	Cursor string
	Limit  int
}

// parseListQuery reads the dashboard filters. Unknown parameters are ignored.
func parseListQuery(v url.Values) (*listQuery, error) {
	for key, vals := range v {
		for _, val := range vals {
			if len(val) > maxQueryValueLength {
				return nil, dErrors.NewField(dErrors.CodeValidation, key, key+" is too long")
			}
		}
	}

	q := &listQuery{Cursor: v.Get("cursor")}
	f := &q.Filter
	f.ReportType = strings.ToLower(strings.TrimSpace(v.Get("report_type")))

	if raw := v.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		f.Status = status
	}
	if raw := v.Get("review_status"); raw != "" {
		rs := models.ReviewStatus(strings.ToLower(strings.TrimSpace(raw)))
		if !rs.IsValid() {
			return nil, dErrors.NewField(dErrors.CodeValidation, "review_status", "review_status must be one of pending, under_review, approved, rejected")
		}
		f.ReviewStatus = rs
	}

	var err error
	if f.From, err = id.ParseOptionalDate("date_from", v.Get("date_from")); err != nil {
		return nil, err
	}
	if f.To, err = id.ParseOptionalEndDate("date_to", v.Get("date_to")); err != nil {
		return nil, err
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "date_to", "date_to must be after date_from")
	}
	if raw := strings.TrimSpace(v.Get("include_archived")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, dErrors.NewField(dErrors.CodeValidation, "include_archived", "include_archived must be a boolean")
		}
		f.IncludeArchived = b
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, dErrors.NewField(dErrors.CodeValidation, "limit", "limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}
