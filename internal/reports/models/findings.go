package models

import (
	"maps"

	"github.com/shopspring/decimal"
)

// Severity ranks a finding. Violations count against the score fully,
// warnings partially and exceptions not at all.
type Severity string

const (
	SeverityViolation Severity = "violation"
	SeverityWarning   Severity = "warning"
	SeverityException Severity = "exception"
)

// maxFindingEventIDs bounds how many example event ids a finding carries.
const maxFindingEventIDs = 20

// Finding is one observation an analyzer made about the period.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	ActorUserID string   `json:"actor_user_id,omitempty"`
	Count       int      `json:"count"`
	EventIDs    []string `json:"event_ids,omitempty"`
}

// AddEvent counts one more occurrence, keeping a bounded sample of ids.
func (f *Finding) AddEvent(eventID string) {
	f.Count++
	if len(f.EventIDs) < maxFindingEventIDs {
		f.EventIDs = append(f.EventIDs, eventID)
	}
}

// Summary is the aggregate every report carries. Metrics holds
// type-specific figures, already rounded to two decimals.
type Summary struct {
	TotalRecords         int                        `json:"total_records"`
	ByEventType          map[string]int             `json:"by_event_type"`
	ByRiskLevel          map[string]int             `json:"by_risk_level"`
	ByDataClassification map[string]int             `json:"by_data_classification"`
	ByActor              map[string]int             `json:"by_actor"`
	ByDay                map[string]int             `json:"by_day"`
	UniqueActors         int                        `json:"unique_actors"`
	DeniedAccesses       int                        `json:"denied_accesses"`
	Metrics              map[string]decimal.Decimal `json:"metrics,omitempty"`
}

// NewSummary returns a summary with empty maps.
func NewSummary() *Summary {
	return &Summary{
		ByEventType:          make(map[string]int),
		ByRiskLevel:          make(map[string]int),
		ByDataClassification: make(map[string]int),
		ByActor:              make(map[string]int),
		ByDay:                make(map[string]int),
	}
}

// SetMetric stores v rounded half-up to two decimals.
func (s *Summary) SetMetric(name string, v decimal.Decimal) {
	if s.Metrics == nil {
		s.Metrics = make(map[string]decimal.Decimal)
	}
	s.Metrics[name] = v.Round(2)
}

func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	c := *s
	c.ByEventType = maps.Clone(s.ByEventType)
	c.ByRiskLevel = maps.Clone(s.ByRiskLevel)
	c.ByDataClassification = maps.Clone(s.ByDataClassification)
	c.ByActor = maps.Clone(s.ByActor)
	c.ByDay = maps.Clone(s.ByDay)
	c.Metrics = maps.Clone(s.Metrics)
	return &c
}
