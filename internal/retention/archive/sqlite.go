// Package archive is the cold store that keeps copies of records removed
// from the hot database by retention cleanup.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	auditmodels "pharmaudit/internal/audit/models"
	reportmodels "pharmaudit/internal/reports/models"
	retention "pharmaudit/internal/retention/models"
	"pharmaudit/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS archived_records (
    kind        TEXT NOT NULL,
    id          TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    archived_at TEXT NOT NULL,
    checksum    TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL,
    PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS idx_archived_records_created ON archived_records (kind, created_at);
`

// Record is one archived copy.
type Record struct {
	Kind       string
	ID         string
	CreatedAt  time.Time
	ArchivedAt time.Time
	Checksum   string
	Payload    json.RawMessage
}

// SQLite stores archived records in a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// Open creates the file and schema when missing.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// ArchiveEvent copies an audit event. Archiving the same event twice
// overwrites the earlier copy, so a run interrupted after the copy can be
// repeated.
func (s *SQLite) ArchiveEvent(ctx context.Context, e *auditmodels.AuditEvent, at time.Time) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.put(ctx, Record{
		Kind:       retention.KindAuditEvent,
		ID:         e.ID.String(),
		CreatedAt:  e.CreatedAt,
		ArchivedAt: at,
		Checksum:   e.Checksum,
		Payload:    payload,
	})
}

// ArchiveReport copies a compliance report. The artifact file is not copied.
func (s *SQLite) ArchiveReport(ctx context.Context, r *reportmodels.ComplianceReport, at time.Time) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	rec := Record{
		Kind:       retention.KindReport,
		ID:         r.ID.String(),
		CreatedAt:  r.CreatedAt,
		ArchivedAt: at,
		Payload:    payload,
	}
	if r.File != nil {
		rec.Checksum = r.File.Hash
	}
	return s.put(ctx, rec)
}

func (s *SQLite) put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_records (kind, id, created_at, archived_at, checksum, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			archived_at = excluded.archived_at,
			checksum    = excluded.checksum,
			payload     = excluded.payload`,
		rec.Kind, rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.ArchivedAt.UTC().Format(time.RFC3339Nano),
		rec.Checksum, string(rec.Payload),
	)
	if err != nil {
		return fmt.Errorf("archive %s %s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Get returns one archived record or sentinel.ErrNotFound.
func (s *SQLite) Get(ctx context.Context, kind, recordID string) (*Record, error) {
	var (
		rec                   Record
		createdAt, archivedAt string
		payload               string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, id, created_at, archived_at, checksum, payload
		FROM archived_records WHERE kind = ? AND id = ?`, kind, recordID,
	).Scan(&rec.Kind, &rec.ID, &createdAt, &archivedAt, &rec.Checksum, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read archived %s %s: %w", kind, recordID, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.ArchivedAt, err = time.Parse(time.RFC3339Nano, archivedAt); err != nil {
		return nil, fmt.Errorf("parse archived_at: %w", err)
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

// Count returns how many records of kind are archived.
func (s *SQLite) Count(ctx context.Context, kind string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_records WHERE kind = ?`, kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archived %s: %w", kind, err)
	}
	return n, nil
}

// Health pings the archive file.
func (s *SQLite) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
