// Package export renders compliance reports to downloadable artifacts and
// keeps them on disk with a content hash.
package export

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"pharmaudit/internal/reports/models"
	dErrors "pharmaudit/pkg/domain-errors"
)

// Renderer serializes a report in one format.
type Renderer interface {
	Render(w io.Writer, r *models.ComplianceReport) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(w io.Writer, r *models.ComplianceReport) error

func (f RendererFunc) Render(w io.Writer, r *models.ComplianceReport) error { return f(w, r) }

var renderers = map[models.Format]Renderer{
	models.FormatJSON: RendererFunc(renderJSON),
	models.FormatCSV:  RendererFunc(renderCSV),
	models.FormatXML:  RendererFunc(renderXML),
	models.FormatPDF:  RendererFunc(renderPDF),
}

// For returns the renderer for format.
func For(format models.Format) (Renderer, error) {
	r, ok := renderers[format]
	if !ok {
		return nil, dErrors.NewField(dErrors.CodeValidation, "format", "unsupported export format "+string(format))
	}
	return r, nil
}

// document is the format-neutral view every renderer prints.
type document struct {
	ReportID        string
	ReportType      string
	ReportName      string
	Framework       string
	Description     string
	PeriodStart     string
	PeriodEnd       string
	GeneratedAt     string
	GeneratedBy     string
	Score           string
	RecordsAnalyzed int
	ViolationsCount int
	WarningsCount   int
	ExceptionsCount int
	Counts          []section
	Metrics         []pair
	Violations      []models.Finding
	Findings        []models.Finding
	Recommendations []string
}

type section struct {
	Name  string
	Pairs []pair
}

type pair struct {
	Key   string
	Value string
}

func newDocument(r *models.ComplianceReport) document {
	d := document{
		ReportID:        r.ID.String(),
		ReportType:      r.ReportType,
		ReportName:      r.ReportName,
		Framework:       r.Framework,
		Description:     r.Description,
		PeriodStart:     r.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:       r.PeriodEnd.UTC().Format(time.RFC3339),
		GeneratedBy:     r.GeneratedBy,
		RecordsAnalyzed: r.RecordsAnalyzed,
		ViolationsCount: r.ViolationsCount,
		WarningsCount:   r.WarningsCount,
		ExceptionsCount: r.ExceptionsCount,
		Violations:      r.Violations,
		Findings:        r.DetailedFindings,
		Recommendations: r.Recommendations,
	}
	if r.GenerationCompletedAt != nil {
		d.GeneratedAt = r.GenerationCompletedAt.UTC().Format(time.RFC3339)
	}
	if r.ComplianceScore != nil {
		d.Score = r.ComplianceScore.StringFixed(2)
	}
	if s := r.Summary; s != nil {
		d.Counts = []section{
			{"total", []pair{
				{"records", strconv.Itoa(s.TotalRecords)},
				{"unique_actors", strconv.Itoa(s.UniqueActors)},
				{"denied_accesses", strconv.Itoa(s.DeniedAccesses)},
			}},
			{"by_event_type", sortedPairs(s.ByEventType)},
			{"by_risk_level", sortedPairs(s.ByRiskLevel)},
			{"by_data_classification", sortedPairs(s.ByDataClassification)},
			{"by_actor", sortedPairs(s.ByActor)},
			{"by_day", sortedPairs(s.ByDay)},
		}
		keys := make([]string, 0, len(s.Metrics))
		for k := range s.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.Metrics = append(d.Metrics, pair{k, s.Metrics[k].StringFixed(2)})
		}
	}
	return d
}

func sortedPairs(m map[string]int) []pair {
	out := make([]pair, 0, len(m))
	for k, v := range m {
		out = append(out, pair{k, strconv.Itoa(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func joinIDs(ids []string) string {
	return strings.Join(ids, " ")
}
