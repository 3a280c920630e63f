package domain

import (
	"strings"
	"time"

	dErrors "pharmaudit/pkg/domain-errors"
)

// ParseDate accepts YYYY-MM-DD (midnight UTC) or RFC3339 and returns UTC.
// field names the input in the validation error.
func ParseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, dErrors.NewField(dErrors.CodeValidation, field, field+" is required")
	}
	if len(value) > 64 {
		return time.Time{}, dErrors.NewField(dErrors.CodeValidation, field, field+" is not a valid date")
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, dErrors.NewField(dErrors.CodeValidation, field, field+" must be YYYY-MM-DD or RFC3339")
}

// ParseOptionalDate is ParseDate that maps an empty value to nil.
func ParseOptionalDate(field, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := ParseDate(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseOptionalEndDate parses an exclusive upper bound. A date-only value
// names a whole day, so it becomes the following midnight; RFC3339 values are
// used as given.
func ParseOptionalEndDate(field, value string) (*time.Time, error) {
	t, err := ParseOptionalDate(field, value)
	if err != nil || t == nil {
		return t, err
	}
	if _, err := time.Parse(time.DateOnly, strings.TrimSpace(value)); err == nil {
		next := t.AddDate(0, 0, 1)
		return &next, nil
	}
	return t, nil
}

// AddYears moves t by n calendar years, clamping Feb 29 to Feb 28 in
// non-leap years the way Postgres interval arithmetic does.
func AddYears(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	y += n
	if last := time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day(); d > last {
		d = last
	}
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
