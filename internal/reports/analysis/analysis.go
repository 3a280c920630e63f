// Package analysis turns a stream of audit events into report findings.
// Each report type has an Analyzer that narrows the events it reads and
// classifies what it sees as violations, warnings or exceptions.
package analysis

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/reports/models"
)

// Config tunes the built-in rules.
type Config struct {
	FailedLoginThreshold int
	BulkAccessThreshold  int
	BusinessHourStart    int
	BusinessHourEnd      int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		FailedLoginThreshold: 5,
		BulkAccessThreshold:  100,
		BusinessHourStart:    6,
		BusinessHourEnd:      22,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailedLoginThreshold <= 0 {
		c.FailedLoginThreshold = d.FailedLoginThreshold
	}
	if c.BulkAccessThreshold <= 0 {
		c.BulkAccessThreshold = d.BulkAccessThreshold
	}
	if c.BusinessHourStart <= 0 && c.BusinessHourEnd <= 0 {
		c.BusinessHourStart, c.BusinessHourEnd = d.BusinessHourStart, d.BusinessHourEnd
	}
	return c
}

// Analyzer describes one report type.
type Analyzer interface {
	// Framework is the regulation the report is filed under by default.
	Framework() string
	// Predicate narrows the events read for the report.
	Predicate() auditmodels.EventFilter
	// Begin starts a single pass over the period.
	Begin(cfg Config) Pass
}

// Pass accumulates one report's findings. Observe is called once per event
// in scan order; Finish is called once at the end.
type Pass interface {
	Observe(e *auditmodels.AuditEvent)
	Finish() Result
}

// Result is what a pass concluded.
type Result struct {
	Violations []models.Finding
	Warnings   []models.Finding
	Exceptions []models.Finding
	Metrics    map[string]decimal.Decimal
}

// Totals sums occurrences per severity.
func (r Result) Totals() (violations, warnings, exceptions int) {
	for _, f := range r.Violations {
		violations += f.Count
	}
	for _, f := range r.Warnings {
		warnings += f.Count
	}
	for _, f := range r.Exceptions {
		exceptions += f.Count
	}
	return violations, warnings, exceptions
}

// Registry maps report types to analyzers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

// NewRegistry returns a registry holding the built-in analyzers.
func NewRegistry() *Registry {
	r := &Registry{analyzers: make(map[string]Analyzer)}
	for reportType, a := range builtins() {
		r.analyzers[reportType] = a
	}
	return r
}

// Register adds or replaces the analyzer for reportType.
func (r *Registry) Register(reportType string, a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[reportType] = a
}

func (r *Registry) Lookup(reportType string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[reportType]
	return a, ok
}

// Types lists registered report types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.analyzers))
	for t := range r.analyzers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// tally groups findings by severity, category and actor, in first-seen order.
type tally struct {
	order []string
	byKey map[string]*models.Finding
}

func newTally() *tally {
	return &tally{byKey: make(map[string]*models.Finding)}
}

func (t *tally) add(sev models.Severity, category, description string, e *auditmodels.AuditEvent) {
	actor := e.ActorUserID()
	key := string(sev) + "|" + category + "|" + actor
	f, ok := t.byKey[key]
	if !ok {
		f = &models.Finding{Severity: sev, Category: category, Description: description, ActorUserID: actor}
		t.byKey[key] = f
		t.order = append(t.order, key)
	}
	f.AddEvent(e.ID.String())
}

// addCount records a finding that is not tied to a single event.
func (t *tally) addCount(sev models.Severity, category, description, actor string, count int, eventIDs []string) {
	key := string(sev) + "|" + category + "|" + actor
	f, ok := t.byKey[key]
	if !ok {
		f = &models.Finding{Severity: sev, Category: category, Description: description, ActorUserID: actor}
		t.byKey[key] = f
		t.order = append(t.order, key)
	}
	f.Count += count
	for _, eventID := range eventIDs {
		if len(f.EventIDs) >= 20 {
			break
		}
		f.EventIDs = append(f.EventIDs, eventID)
	}
}

func (t *tally) result(metrics map[string]decimal.Decimal) Result {
	res := Result{Metrics: metrics}
	for _, key := range t.order {
		f := *t.byKey[key]
		switch f.Severity {
		case models.SeverityViolation:
			res.Violations = append(res.Violations, f)
		case models.SeverityWarning:
			res.Warnings = append(res.Warnings, f)
		default:
			res.Exceptions = append(res.Exceptions, f)
		}
	}
	return res
}

// percent returns part/whole*100, or zero when whole is zero.
func percent(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(whole))).Round(2)
}

// Outcome is a finished analysis ready to be stored on a report.
type Outcome struct {
	Summary         *models.Summary
	Result          Result
	RecordsAnalyzed int
	Violations      int
	Warnings        int
	Exceptions      int
	Score           decimal.Decimal
	Recommendations []string
}

// Session drives one analyzer pass together with the common summary.
type Session struct {
	pass    Pass
	summary *SummaryBuilder
	records int
}

func Start(a Analyzer, cfg Config) *Session {
	return &Session{pass: a.Begin(cfg), summary: NewSummaryBuilder()}
}

func (s *Session) Observe(e *auditmodels.AuditEvent) {
	s.records++
	s.summary.Observe(e)
	s.pass.Observe(e)
}

// Finish closes the pass and scores it.
func (s *Session) Finish(w Weights) Outcome {
	res := s.pass.Finish()
	v, wn, x := res.Totals()
	return Outcome{
		Summary:         s.summary.Build(res),
		Result:          res,
		RecordsAnalyzed: s.records,
		Violations:      v,
		Warnings:        wn,
		Exceptions:      x,
		Score:           Score(s.records, v, wn, w),
		Recommendations: Recommendations(res),
	}
}
