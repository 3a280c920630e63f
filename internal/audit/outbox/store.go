// Package outbox relays audit events written to the outbox table to Kafka.
// The relay runs beside the recorder; a broker outage never blocks Record.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "pharmaudit/pkg/platform/tx"
)

// Entry is one unpublished outbox row.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// PostgresStore claims rows with FOR UPDATE SKIP LOCKED so several relays
// can run against the same database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Process locks up to limit unpublished rows, hands them to publish and marks
// them published when publish succeeds. On error the transaction rolls back
// and the rows stay pending.
func (s *PostgresStore) Process(ctx context.Context, limit int, publish func(context.Context, []Entry) error) (int, error) {
	var processed int
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
			FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		var entries []Entry
		for rows.Next() {
			var e Entry
			if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox row: %w", err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox rows: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		if err := publish(ctx, entries); err != nil {
			return err
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID.String()
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
			time.Now().UTC(), pq.Array(ids)); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		processed = len(entries)
		return nil
	})
	return processed, err
}

// PurgePublished deletes rows published before cutoff.
func (s *PostgresStore) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return res.RowsAffected()
}

// InMemoryStore is a test double with the same claim semantics.
type InMemoryStore struct {
	mu        sync.Mutex
	entries   []Entry
	published map[uuid.UUID]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{published: make(map[uuid.UUID]time.Time)}
}

func (s *InMemoryStore) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *InMemoryStore) Process(ctx context.Context, limit int, publish func(context.Context, []Entry) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []Entry
	for _, e := range s.entries {
		if _, done := s.published[e.ID]; done {
			continue
		}
		batch = append(batch, e)
		if len(batch) == limit {
			break
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := publish(ctx, slices.Clone(batch)); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, e := range batch {
		s.published[e.ID] = now
	}
	return len(batch), nil
}

// Pending counts unpublished entries.
func (s *InMemoryStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) - len(s.published)
}
