package handler

import (
	"net/url"
	"strconv"
	"strings"

	"pharmaudit/internal/audit/models"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	pstrings "pharmaudit/pkg/platform/strings"
)

const (
	maxQueryValueLength = 255
	maxEventTypesInList = 20
)

type listQuery struct {
	Filter models.EventFilter
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

	if raw := v["event_type"]; len(raw) > 0 {
		var types []string
		for _, r := range raw {
			types = append(types, strings.Split(r, ",")...)
		}
		f.EventTypes = pstrings.Dedupe(types, strings.ToLower)
		if len(f.EventTypes) > maxEventTypesInList {
			return nil, dErrors.NewField(dErrors.CodeValidation, "event_type", "too many event types")
		}
	}
	if raw := v.Get("risk_level"); raw != "" {
		level, err := models.ParseRiskLevel(raw)
		if err != nil {
			return nil, err
		}
		f.RiskLevel = level
	}
	if raw := v.Get("min_risk_level"); raw != "" {
		level, err := models.ParseRiskLevel(raw)
		if err != nil {
			return nil, err
		}
		f.MinRiskLevel = level
	}
	if raw := v.Get("data_classification"); raw != "" {
		class, err := models.ParseDataClassification(raw)
		if err != nil {
			return nil, err
		}
		f.DataClassification = class
	}
	f.UserID = strings.TrimSpace(v.Get("user_id"))
	f.EntityType = strings.TrimSpace(v.Get("entity_type"))

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

	flags := []struct {
		name string
		dst  *bool
	}{
		{"phi_only", &f.PHIOnly},
		{"controlled_substances_only", &f.ControlledOnly},
		{"financial_only", &f.FinancialOnly},
		{"failed_access_only", &f.FailedAccessOnly},
		{"include_archived", &f.IncludeArchived},
	}
	for _, flag := range flags {
		if *flag.dst, err = parseBool(v, flag.name); err != nil {
			return nil, err
		}
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

func parseBool(v url.Values, name string) (bool, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.NewField(dErrors.CodeValidation, name, name+" must be a boolean")
	}
	return b, nil
}
