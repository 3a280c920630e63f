package export

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/go-pdf/fpdf"

	"pharmaudit/internal/reports/models"
)

// JSON writes the stored report as is so machine consumers see every field.
func renderJSON(w io.Writer, r *models.ComplianceReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}

// CSV writes one row per fact: section, key, value, then a findings table.
func renderCSV(w io.Writer, r *models.ComplianceReport) error {
	d := newDocument(r)
	cw := csv.NewWriter(w)

	rows := [][]string{
		{"section", "key", "value"},
		{"report", "id", d.ReportID},
		{"report", "type", d.ReportType},
		{"report", "name", d.ReportName},
		{"report", "framework", d.Framework},
		{"report", "period_start", d.PeriodStart},
		{"report", "period_end", d.PeriodEnd},
		{"report", "generated_at", d.GeneratedAt},
		{"report", "compliance_score", d.Score},
		{"report", "records_analyzed", strconv.Itoa(d.RecordsAnalyzed)},
		{"report", "violations", strconv.Itoa(d.ViolationsCount)},
		{"report", "warnings", strconv.Itoa(d.WarningsCount)},
		{"report", "exceptions", strconv.Itoa(d.ExceptionsCount)},
	}
	for _, s := range d.Counts {
		for _, p := range s.Pairs {
			rows = append(rows, []string{s.Name, p.Key, p.Value})
		}
	}
	for _, p := range d.Metrics {
		rows = append(rows, []string{"metrics", p.Key, p.Value})
	}
	for i, rec := range d.Recommendations {
		rows = append(rows, []string{"recommendation", strconv.Itoa(i + 1), rec})
	}
	rows = append(rows, nil, []string{"severity", "category", "description", "actor_user_id", "count", "event_ids"})
	for _, group := range [][]models.Finding{d.Violations, d.Findings} {
		for _, f := range group {
			rows = append(rows, []string{string(f.Severity), f.Category, f.Description, f.ActorUserID, strconv.Itoa(f.Count), joinIDs(f.EventIDs)})
		}
	}

	for _, row := range rows {
		if row == nil {
			row = []string{}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv report: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type xmlReport struct {
	XMLName         xml.Name     `xml:"compliance_report"`
	ID              string       `xml:"id,attr"`
	Type            string       `xml:"type,attr"`
	Name            string       `xml:"name"`
	Framework       string       `xml:"framework,omitempty"`
	Description     string       `xml:"description,omitempty"`
	PeriodStart     string       `xml:"period>start"`
	PeriodEnd       string       `xml:"period>end"`
	GeneratedAt     string       `xml:"generated_at,omitempty"`
	Score           string       `xml:"compliance_score,omitempty"`
	RecordsAnalyzed int          `xml:"counts>records_analyzed"`
	Violations      int          `xml:"counts>violations"`
	Warnings        int          `xml:"counts>warnings"`
	Exceptions      int          `xml:"counts>exceptions"`
	Sections        []xmlSection `xml:"summary>section"`
	Metrics         []xmlEntry   `xml:"metrics>metric"`
	Findings        []xmlFinding `xml:"findings>finding"`
	Recommendations []string     `xml:"recommendations>recommendation"`
}

type xmlSection struct {
	Name    string     `xml:"name,attr"`
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlFinding struct {
	Severity    string `xml:"severity,attr"`
	Category    string `xml:"category,attr"`
	Count       int    `xml:"count,attr"`
	ActorUserID string `xml:"actor_user_id,omitempty"`
	Description string `xml:"description"`
	EventIDs    string `xml:"event_ids,omitempty"`
}

func renderXML(w io.Writer, r *models.ComplianceReport) error {
	d := newDocument(r)
	doc := xmlReport{
		ID:              d.ReportID,
		Type:            d.ReportType,
		Name:            d.ReportName,
		Framework:       d.Framework,
		Description:     d.Description,
		PeriodStart:     d.PeriodStart,
		PeriodEnd:       d.PeriodEnd,
		GeneratedAt:     d.GeneratedAt,
		Score:           d.Score,
		RecordsAnalyzed: d.RecordsAnalyzed,
		Violations:      d.ViolationsCount,
		Warnings:        d.WarningsCount,
		Exceptions:      d.ExceptionsCount,
		Recommendations: d.Recommendations,
	}
	for _, s := range d.Counts {
		xs := xmlSection{Name: s.Name}
		for _, p := range s.Pairs {
			xs.Entries = append(xs.Entries, xmlEntry(p))
		}
		doc.Sections = append(doc.Sections, xs)
	}
	for _, p := range d.Metrics {
		doc.Metrics = append(doc.Metrics, xmlEntry(p))
	}
	for _, group := range [][]models.Finding{d.Violations, d.Findings} {
		for _, f := range group {
			doc.Findings = append(doc.Findings, xmlFinding{
				Severity:    string(f.Severity),
				Category:    f.Category,
				Count:       f.Count,
				ActorUserID: f.ActorUserID,
				Description: f.Description,
				EventIDs:    joinIDs(f.EventIDs),
			})
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode xml report: %w", err)
	}
	return enc.Close()
}

func renderPDF(w io.Writer, r *models.ComplianceReport) error {
	d := newDocument(r)
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(r.CreatedAt)
	pdf.SetTitle(d.ReportName, true)
	pdf.SetAuthor("pharmaudit", false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(d.ReportName), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	header := [][2]string{
		{"Report ID", d.ReportID},
		{"Type", d.ReportType},
		{"Framework", d.Framework},
		{"Period", d.PeriodStart + " to " + d.PeriodEnd},
		{"Generated", d.GeneratedAt},
		{"Compliance score", d.Score},
		{"Records analyzed", strconv.Itoa(d.RecordsAnalyzed)},
		{"Violations / warnings / exceptions", fmt.Sprintf("%d / %d / %d", d.ViolationsCount, d.WarningsCount, d.ExceptionsCount)},
	}
	for _, h := range header {
		pdf.CellFormat(70, 6, tr(h[0]), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(h[1]), "", 1, "L", false, 0, "")
	}
	if d.Description != "" {
		pdf.Ln(2)
		pdf.MultiCell(0, 5, tr(d.Description), "", "L", false)
	}

	heading := func(text string) {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, tr(text), "B", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
	}

	heading("Summary")
	for _, s := range d.Counts {
		for _, p := range s.Pairs {
			pdf.CellFormat(70, 5, tr(s.Name+" / "+p.Key), "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 5, p.Value, "", 1, "L", false, 0, "")
		}
	}
	for _, p := range d.Metrics {
		pdf.CellFormat(70, 5, tr(p.Key), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, p.Value, "", 1, "L", false, 0, "")
	}

	heading("Violations")
	if len(d.Violations) == 0 {
		pdf.CellFormat(0, 5, "None", "", 1, "L", false, 0, "")
	}
	for _, f := range d.Violations {
		line := fmt.Sprintf("[%s] %s x%d: %s", f.Severity, f.Category, f.Count, f.Description)
		if f.ActorUserID != "" {
			line += " (user " + f.ActorUserID + ")"
		}
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}

	if len(d.Findings) > 0 {
		heading("Other findings")
		for _, f := range d.Findings {
			pdf.MultiCell(0, 5, tr(fmt.Sprintf("[%s] %s x%d: %s", f.Severity, f.Category, f.Count, f.Description)), "", "L", false)
		}
	}

	heading("Recommendations")
	for i, rec := range d.Recommendations {
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("%d. %s", i+1, rec)), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf report: %w", err)
	}
	return nil
}
