// Package ratelimit throttles API callers with a sliding window per caller
// and endpoint class.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Class groups endpoints that share a budget.
type Class string

const (
	ClassRead     Class = "read"
	ClassWrite    Class = "write"
	ClassGenerate Class = "generate"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot.
func (r *Result) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	return int((d + time.Second - 1) / time.Second)
}

// Store counts requests per key over a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Limits is the per-window budget of each class. A zero budget disables
// limiting for that class.
type Limits struct {
	Window   time.Duration
	Read     int
	Write    int
	Generate int
}

func (l Limits) budget(c Class) int {
	switch c {
	case ClassRead:
		return l.Read
	case ClassWrite:
		return l.Write
	case ClassGenerate:
		return l.Generate
	}
	return 0
}

// Classify maps a request to its class. Report generation is the expensive
// write and gets its own budget.
func Classify(r *http.Request) Class {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return ClassRead
	}
	if r.Method == http.MethodPost && strings.TrimSuffix(r.URL.Path, "/") == "/compliance/reports" {
		return ClassGenerate
	}
	return ClassWrite
}
