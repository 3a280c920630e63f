package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_ProcessMarksPublished(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewPostgresStore(db)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at FROM outbox WHERE published_at IS NULL ORDER BY created_at LIMIT \$1 FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
			AddRow(id.String(), "audit_event", id.String(), "login", []byte(`{}`), time.Now()))
	mock.ExpectExec(`UPDATE outbox SET published_at = \$1 WHERE id = ANY\(\$2::uuid\[\]\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var got []Entry
	n, err := store.Process(context.Background(), 10, func(_ context.Context, entries []Entry) error {
		got = entries
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ProcessRollsBackOnPublishError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewPostgresStore(db)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, aggregate_type`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
			AddRow(id.String(), "audit_event", id.String(), "login", []byte(`{}`), time.Now()))
	mock.ExpectRollback()

	_, err = store.Process(context.Background(), 10, func(context.Context, []Entry) error {
		return errors.New("broker down")
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
