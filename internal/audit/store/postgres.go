package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pharmaudit/internal/audit/models"
	"pharmaudit/internal/platform/postgres"
	id "pharmaudit/pkg/domain"
	"pharmaudit/pkg/platform/sentinel"
	txcontext "pharmaudit/pkg/platform/tx"
)

// OutboxAggregate is the aggregate_type of outbox rows written for events.
const OutboxAggregate = "audit_event"

// Postgres stores events in audit_events and writes an outbox row for each
// append in the same transaction.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const eventColumns = `
	id, event_type, entity_type, entity_id, entity_identifier,
	actor_user_id, actor_name, actor_type,
	ip_address, user_agent, session_id, route, http_method, url,
	old_values, new_values, metadata,
	is_phi_access, is_controlled_substance, is_financial_data,
	requires_retention, retention_years, checksum, is_verified, verified_at,
	risk_level, data_classification, access_granted, response_status,
	is_archived, archived_at, created_at`

// Append inserts the event and its outbox entry atomically.
func (s *Postgres) Append(ctx context.Context, e *models.AuditEvent) error {
	oldValues, err := marshalJSONB(e.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old_values: %w", err)
	}
	newValues, err := marshalJSONB(e.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new_values: %w", err)
	}
	metadata, err := marshalJSONB(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	var actorUserID, actorName, actorType string
	if e.Actor != nil {
		actorUserID, actorName, actorType = e.Actor.UserID, e.Actor.Name, e.Actor.Type
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`,
			uuid.UUID(e.ID), e.EventType, e.Entity.Type, nullString(e.Entity.ID), e.Entity.Identifier,
			nullString(actorUserID), actorName, actorType,
			e.Request.IP, e.Request.UserAgent, e.Request.SessionID, e.Request.Route, e.Request.Method, e.Request.URL,
			oldValues, newValues, metadata,
			e.IsPHIAccess, e.IsControlledSubstance, e.IsFinancialData,
			e.RequiresRetention, e.RetentionYears, e.Checksum, e.IsVerified, e.VerifiedAt,
			string(e.RiskLevel), string(e.DataClassification), e.AccessGranted, e.ResponseStatus,
			e.IsArchived, e.ArchivedAt, e.CreatedAt,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert audit event: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), OutboxAggregate, e.ID.String(), e.EventType, payload, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

func (s *Postgres) FindByID(ctx context.Context, eventID id.EventID) (*models.AuditEvent, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE id = $1`, uuid.UUID(eventID))
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find audit event: %w", err)
	}
	return e, nil
}

func applyFilter(q *postgres.Where, f models.EventFilter) {
	if len(f.EventTypes) > 0 {
		q.Add("event_type = ANY(?)", pq.Array(f.EventTypes))
	}
	if f.RiskLevel != "" {
		q.Add("risk_level = ?", string(f.RiskLevel))
	}
	if f.MinRiskLevel != "" {
		var levels []string
		for _, l := range models.RiskLevels() {
			if l.AtLeast(f.MinRiskLevel) == l {
				levels = append(levels, string(l))
			}
		}
		q.Add("risk_level = ANY(?)", pq.Array(levels))
	}
	if f.DataClassification != "" {
		q.Add("data_classification = ?", string(f.DataClassification))
	}
	if f.UserID != "" {
		q.Add("actor_user_id = ?", f.UserID)
	}
	if f.EntityType != "" {
		q.Add("lower(entity_type) = lower(?)", f.EntityType)
	}
	if f.From != nil {
		q.Add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q.Add("created_at < ?", *f.To)
	}
	if f.PHIOnly {
		q.Add("is_phi_access")
	}
	if f.ControlledOnly {
		q.Add("is_controlled_substance")
	}
	if f.FinancialOnly {
		q.Add("is_financial_data")
	}
	if f.FailedAccessOnly {
		q.Add("NOT access_granted")
	}
	if !f.IncludeArchived {
		q.Add("NOT is_archived")
	}
}

// List pages newest first by (created_at, id).
func (s *Postgres) List(ctx context.Context, filter models.EventFilter, cursor *models.Cursor, limit int, asOf time.Time) ([]*models.AuditEvent, error) {
	q := &postgres.Where{}
	applyFilter(q, filter)
	if !asOf.IsZero() {
		q.Add("created_at < ?", asOf)
	}
	if cursor != nil {
		q.Add("(created_at, id) < (?, ?)", cursor.CreatedAt, uuid.UUID(cursor.ID))
	}
	query := `SELECT ` + eventColumns + ` FROM audit_events` + q.SQL() + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT " + q.Arg(limit)
	}
	return s.queryEvents(ctx, query, q.Args...)
}

func (s *Postgres) MarkVerified(ctx context.Context, eventID id.EventID, at time.Time) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE audit_events SET is_verified = TRUE, verified_at = $2 WHERE id = $1`,
		uuid.UUID(eventID), at)
	if err != nil {
		return fmt.Errorf("mark audit event verified: %w", err)
	}
	return requireRow(res)
}

// ListExpired pages oldest first through unarchived events past retention.
func (s *Postgres) ListExpired(ctx context.Context, asOf time.Time, after *models.Cursor, limit int) ([]*models.AuditEvent, error) {
	q := &postgres.Where{}
	q.Add("NOT is_archived")
	q.Add("created_at + make_interval(years => retention_years) <= ?", asOf)
	if after != nil {
		q.Add("(created_at, id) > (?, ?)", after.CreatedAt, uuid.UUID(after.ID))
	}
	query := `SELECT ` + eventColumns + ` FROM audit_events` + q.SQL() + ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += " LIMIT " + q.Arg(limit)
	}
	return s.queryEvents(ctx, query, q.Args...)
}

func (s *Postgres) MarkArchived(ctx context.Context, eventID id.EventID, at time.Time) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE audit_events SET is_archived = TRUE, archived_at = $2 WHERE id = $1 AND NOT is_archived`,
		uuid.UUID(eventID), at)
	if err != nil {
		return fmt.Errorf("mark audit event archived: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) Delete(ctx context.Context, eventID id.EventID) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM audit_events WHERE id = $1`, uuid.UUID(eventID))
	if err != nil {
		return fmt.Errorf("delete audit event: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) queryEvents(ctx context.Context, query string, args ...any) ([]*models.AuditEvent, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.AuditEvent, error) {
	var (
		e                              models.AuditEvent
		rawID                          uuid.UUID
		entityID, actorUserID          sql.NullString
		actorName, actorType           string
		oldValues, newValues, metadata []byte
		verifiedAt, archivedAt         sql.NullTime
		responseStatus                 sql.NullInt64
		riskLevel, classification      string
	)
	err := row.Scan(
		&rawID, &e.EventType, &e.Entity.Type, &entityID, &e.Entity.Identifier,
		&actorUserID, &actorName, &actorType,
		&e.Request.IP, &e.Request.UserAgent, &e.Request.SessionID, &e.Request.Route, &e.Request.Method, &e.Request.URL,
		&oldValues, &newValues, &metadata,
		&e.IsPHIAccess, &e.IsControlledSubstance, &e.IsFinancialData,
		&e.RequiresRetention, &e.RetentionYears, &e.Checksum, &e.IsVerified, &verifiedAt,
		&riskLevel, &classification, &e.AccessGranted, &responseStatus,
		&e.IsArchived, &archivedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ID = id.EventID(rawID)
	e.Entity.ID = entityID.String
	if actorUserID.Valid {
		e.Actor = &models.Actor{UserID: actorUserID.String, Name: actorName, Type: actorType}
	}
	if e.OldValues, err = models.DecodeValues(oldValues); err != nil {
		return nil, fmt.Errorf("decode old_values: %w", err)
	}
	if e.NewValues, err = models.DecodeValues(newValues); err != nil {
		return nil, fmt.Errorf("decode new_values: %w", err)
	}
	if e.Metadata, err = models.DecodeValues(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time.UTC()
		e.VerifiedAt = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time.UTC()
		e.ArchivedAt = &t
	}
	if responseStatus.Valid {
		s := int(responseStatus.Int64)
		e.ResponseStatus = &s
	}
	e.RiskLevel = models.RiskLevel(riskLevel)
	e.DataClassification = models.DataClassification(classification)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func marshalJSONB(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
