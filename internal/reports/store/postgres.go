package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pharmaudit/internal/platform/postgres"
	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
	"pharmaudit/pkg/platform/sentinel"
	txcontext "pharmaudit/pkg/platform/tx"
)

// Postgres stores reports in compliance_reports with JSONB payload columns.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const reportColumns = `
	id, report_type, report_name, description, framework,
	period_start, period_end, parameters, status,
	summary_data, detailed_findings, violations, recommendations,
	file_path, file_format, file_size, file_hash,
	generation_started_at, generation_completed_at, generation_time_seconds, compliance_score,
	records_analyzed, violations_count, warnings_count, exceptions_count,
	requires_retention, retention_years, is_archived, archived_at,
	review_status, reviewed_by, reviewer_name, review_notes, reviewed_at,
	distribution_list, distribution_log, error_message, generated_by,
	created_at, updated_at`

// immutableColumns are never written by Update. distribution_log only grows
// through AppendDistribution.
var immutableColumns = map[string]bool{
	"id": true, "report_type": true, "report_name": true, "description": true, "framework": true,
	"period_start": true, "period_end": true, "parameters": true,
	"requires_retention": true, "retention_years": true,
	"distribution_list": true, "distribution_log": true, "generated_by": true, "created_at": true,
}

type column struct {
	name  string
	value any
}

func columnsOf(r *models.ComplianceReport) ([]column, error) {
	parameters, err := json.Marshal(r.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	summary, err := jsonb(r.Summary, r.Summary != nil)
	if err != nil {
		return nil, fmt.Errorf("marshal summary_data: %w", err)
	}
	findings, err := jsonb(r.DetailedFindings, r.DetailedFindings != nil)
	if err != nil {
		return nil, fmt.Errorf("marshal detailed_findings: %w", err)
	}
	violations, err := jsonb(r.Violations, r.Violations != nil)
	if err != nil {
		return nil, fmt.Errorf("marshal violations: %w", err)
	}
	recommendations, err := jsonb(r.Recommendations, r.Recommendations != nil)
	if err != nil {
		return nil, fmt.Errorf("marshal recommendations: %w", err)
	}
	distList, err := jsonb(r.DistributionList, r.DistributionList != nil)
	if err != nil {
		return nil, fmt.Errorf("marshal distribution_list: %w", err)
	}
	distLog, err := jsonb(r.DistributionLog, r.DistributionLog != nil)
	if err != nil {
		return nil, fmt.Errorf("marshal distribution_log: %w", err)
	}

	var file models.Artifact
	if r.File != nil {
		file = *r.File
	}

	return []column{
		{"id", uuid.UUID(r.ID)},
		{"report_type", r.ReportType},
		{"report_name", r.ReportName},
		{"description", r.Description},
		{"framework", r.Framework},
		{"period_start", r.PeriodStart},
		{"period_end", r.PeriodEnd},
		{"parameters", parameters},
		{"status", string(r.Status)},
		{"summary_data", summary},
		{"detailed_findings", findings},
		{"violations", violations},
		{"recommendations", recommendations},
		{"file_path", file.Path},
		{"file_format", string(file.Format)},
		{"file_size", file.Size},
		{"file_hash", file.Hash},
		{"generation_started_at", r.GenerationStartedAt},
		{"generation_completed_at", r.GenerationCompletedAt},
		{"generation_time_seconds", nullDecimal(r.GenerationTimeSeconds)},
		{"compliance_score", nullDecimal(r.ComplianceScore)},
		{"records_analyzed", r.RecordsAnalyzed},
		{"violations_count", r.ViolationsCount},
		{"warnings_count", r.WarningsCount},
		{"exceptions_count", r.ExceptionsCount},
		{"requires_retention", r.RequiresRetention},
		{"retention_years", r.RetentionYears},
		{"is_archived", r.IsArchived},
		{"archived_at", r.ArchivedAt},
		{"review_status", string(r.ReviewStatus)},
		{"reviewed_by", r.ReviewedBy},
		{"reviewer_name", r.ReviewerName},
		{"review_notes", r.ReviewNotes},
		{"reviewed_at", r.ReviewedAt},
		{"distribution_list", distList},
		{"distribution_log", distLog},
		{"error_message", r.ErrorMessage},
		{"generated_by", r.GeneratedBy},
		{"created_at", r.CreatedAt},
		{"updated_at", r.UpdatedAt},
	}, nil
}

func (s *Postgres) Create(ctx context.Context, r *models.ComplianceReport) error {
	cols, err := columnsOf(r)
	if err != nil {
		return err
	}
	var w postgres.Where
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = w.Arg(c.value)
	}
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`INSERT INTO compliance_reports (`+reportColumns+`) VALUES (`+strings.Join(placeholders, ", ")+`)`,
		w.Args...)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert compliance report: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM compliance_reports WHERE id = $1`, uuid.UUID(reportID))
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find compliance report: %w", err)
	}
	return r, nil
}

// Update writes the mutable columns in one statement guarded by the expected
// state and by the statuses allowed to precede r.Status. Zero affected rows
// is disambiguated with an existence check.
func (s *Postgres) Update(ctx context.Context, r *models.ComplianceReport, guard Guard) error {
	cols, err := columnsOf(r)
	if err != nil {
		return err
	}
	var w postgres.Where
	var set []string
	for _, c := range cols {
		if immutableColumns[c.name] {
			continue
		}
		set = append(set, c.name+" = "+w.Arg(c.value))
	}
	w.Add("id = ?", uuid.UUID(r.ID))
	if guard.Status != "" {
		w.Add("status = ?", string(guard.Status))
	}
	if guard.ReviewStatus != "" {
		w.Add("review_status = ?", string(guard.ReviewStatus))
	}
	from := r.Status.Predecessors()
	args := make([]any, len(from))
	for i, st := range from {
		args[i] = string(st)
	}
	w.Add("status IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")+")", args...)

	exec := txcontext.Exec(ctx, s.db)
	res, err := exec.ExecContext(ctx,
		`UPDATE compliance_reports SET `+strings.Join(set, ", ")+w.SQL(), w.Args...)
	if err != nil {
		return fmt.Errorf("update compliance report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM compliance_reports WHERE id = $1)`, uuid.UUID(r.ID)).Scan(&exists); err != nil {
		return fmt.Errorf("check compliance report: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

// AppendDistribution concatenates entries onto the JSONB log without touching
// any other column, so it cannot undo a concurrent review.
func (s *Postgres) AppendDistribution(ctx context.Context, reportID id.ReportID, entries []models.DistributionEntry, at time.Time) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal distribution_log: %w", err)
	}
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE compliance_reports
		SET distribution_log = COALESCE(distribution_log, '[]'::jsonb) || $2::jsonb, updated_at = $3
		WHERE id = $1`,
		uuid.UUID(reportID), raw, at)
	if err != nil {
		return fmt.Errorf("append distribution log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// List pages newest first by (created_at, id).
func (s *Postgres) List(ctx context.Context, filter models.ReportFilter, cursor *models.Cursor, limit int) ([]*models.ComplianceReport, error) {
	var w postgres.Where
	if filter.ReportType != "" {
		w.Add("report_type = ?", filter.ReportType)
	}
	if filter.Status != "" {
		w.Add("status = ?", string(filter.Status))
	}
	if filter.ReviewStatus != "" {
		w.Add("review_status = ?", string(filter.ReviewStatus))
	}
	if filter.From != nil {
		w.Add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		w.Add("created_at < ?", *filter.To)
	}
	if !filter.IncludeArchived && filter.Status != models.StatusArchived {
		w.Add("NOT is_archived")
	}
	if cursor != nil {
		w.Add("(created_at, id) < (?, ?)", cursor.CreatedAt, uuid.UUID(cursor.ID))
	}
	query := `SELECT ` + reportColumns + ` FROM compliance_reports` + w.SQL() + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT " + w.Arg(limit)
	}
	return s.queryReports(ctx, query, w.Args...)
}

// ListExpired pages oldest first through finished, unarchived reports past
// retention.
func (s *Postgres) ListExpired(ctx context.Context, asOf time.Time, after *models.Cursor, limit int) ([]*models.ComplianceReport, error) {
	var w postgres.Where
	w.Add("NOT is_archived")
	w.Add("status IN ('completed', 'failed')")
	w.Add("created_at + make_interval(years => retention_years) <= ?", asOf)
	if after != nil {
		w.Add("(created_at, id) > (?, ?)", after.CreatedAt, uuid.UUID(after.ID))
	}
	query := `SELECT ` + reportColumns + ` FROM compliance_reports` + w.SQL() + ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += " LIMIT " + w.Arg(limit)
	}
	return s.queryReports(ctx, query, w.Args...)
}

// MarkArchived only moves finished reports. A row that exists but is still
// in flight yields ErrInvalidState.
func (s *Postgres) MarkArchived(ctx context.Context, reportID id.ReportID, at time.Time) error {
	exec := txcontext.Exec(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE compliance_reports
		SET status = 'archived', is_archived = TRUE, archived_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_archived AND status IN ('completed', 'failed')`,
		uuid.UUID(reportID), at)
	if err != nil {
		return fmt.Errorf("mark compliance report archived: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var inFlight bool
	err = exec.QueryRowContext(ctx,
		`SELECT status IN ('pending', 'generating') FROM compliance_reports WHERE id = $1`,
		uuid.UUID(reportID)).Scan(&inFlight)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sentinel.ErrNotFound
	case err != nil:
		return fmt.Errorf("check compliance report: %w", err)
	case inFlight:
		return sentinel.ErrInvalidState
	default:
		return sentinel.ErrNotFound
	}
}

func (s *Postgres) Delete(ctx context.Context, reportID id.ReportID) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM compliance_reports WHERE id = $1`, uuid.UUID(reportID))
	if err != nil {
		return fmt.Errorf("delete compliance report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) queryReports(ctx context.Context, query string, args ...any) ([]*models.ComplianceReport, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query compliance reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.ComplianceReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan compliance report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compliance reports: %w", err)
	}
	return reports, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*models.ComplianceReport, error) {
	var (
		r                                models.ComplianceReport
		rawID                            uuid.UUID
		status, reviewStatus, fileFormat string
		parameters, summary, findings    []byte
		violations, recommendations      []byte
		distList, distLog                []byte
		file                             models.Artifact
		startedAt, completedAt           sql.NullTime
		archivedAt, reviewedAt           sql.NullTime
		generationSeconds, score         decimal.NullDecimal
	)
	err := row.Scan(
		&rawID, &r.ReportType, &r.ReportName, &r.Description, &r.Framework,
		&r.PeriodStart, &r.PeriodEnd, &parameters, &status,
		&summary, &findings, &violations, &recommendations,
		&file.Path, &fileFormat, &file.Size, &file.Hash,
		&startedAt, &completedAt, &generationSeconds, &score,
		&r.RecordsAnalyzed, &r.ViolationsCount, &r.WarningsCount, &r.ExceptionsCount,
		&r.RequiresRetention, &r.RetentionYears, &r.IsArchived, &archivedAt,
		&reviewStatus, &r.ReviewedBy, &r.ReviewerName, &r.ReviewNotes, &reviewedAt,
		&distList, &distLog, &r.ErrorMessage, &r.GeneratedBy,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ID = id.ReportID(rawID)
	r.Status = models.Status(status)
	r.ReviewStatus = models.ReviewStatus(reviewStatus)
	for _, field := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"parameters", parameters, &r.Parameters},
		{"summary_data", summary, &r.Summary},
		{"detailed_findings", findings, &r.DetailedFindings},
		{"violations", violations, &r.Violations},
		{"recommendations", recommendations, &r.Recommendations},
		{"distribution_list", distList, &r.DistributionList},
		{"distribution_log", distLog, &r.DistributionLog},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field.name, err)
		}
	}
	if file.Path != "" {
		file.Format = models.Format(fileFormat)
		r.File = &file
	}
	r.GenerationStartedAt = utcTime(startedAt)
	r.GenerationCompletedAt = utcTime(completedAt)
	r.ArchivedAt = utcTime(archivedAt)
	r.ReviewedAt = utcTime(reviewedAt)
	if generationSeconds.Valid {
		r.GenerationTimeSeconds = &generationSeconds.Decimal
	}
	if score.Valid {
		r.ComplianceScore = &score.Decimal
	}
	r.PeriodStart = r.PeriodStart.UTC()
	r.PeriodEnd = r.PeriodEnd.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func jsonb(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func utcTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
