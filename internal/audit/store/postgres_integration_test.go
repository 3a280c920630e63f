//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pharmaudit/internal/audit/checksum"
	"pharmaudit/internal/audit/models"
	id "pharmaudit/pkg/domain"
	"pharmaudit/pkg/platform/sentinel"
	"pharmaudit/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Postgres
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgres(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "audit_events", "outbox"))
}

func (s *PostgresStoreSuite) newEvent(at time.Time) *models.AuditEvent {
	e := &models.AuditEvent{
		ID:                 id.NewEventID(),
		EventType:          models.EventPrescriptionDispensed,
		Entity:             models.Entity{Type: "Prescription", ID: "42"},
		Actor:              &models.Actor{UserID: "7", Name: "Dana", Type: "pharmacist"},
		NewValues:          map[string]any{"quantity": 30, "drug": "oxycodone"},
		RequiresRetention:  true,
		RetentionYears:     7,
		RiskLevel:          models.RiskHigh,
		DataClassification: models.ClassConfidential,
		AccessGranted:      true,
		CreatedAt:          at.UTC().Truncate(time.Microsecond),
	}
	var err error
	e.NewValues, err = models.NormalizeValues(e.NewValues)
	s.Require().NoError(err)
	h, err := checksum.New("sha256")
	s.Require().NoError(err)
	e.Checksum, err = h.Compute(e)
	s.Require().NoError(err)
	return e
}

func (s *PostgresStoreSuite) TestRoundTripKeepsChecksumValid() {
	e := s.newEvent(time.Now())
	s.Require().NoError(s.store.Append(s.ctx, e))

	found, err := s.store.FindByID(s.ctx, e.ID)
	s.Require().NoError(err)
	ok, err := checksum.Verify(found)
	s.Require().NoError(err)
	s.True(ok, "checksum must survive JSONB round trip")

	var outboxRows int
	s.Require().NoError(s.pg.DB.QueryRowContext(s.ctx, `SELECT count(*) FROM outbox WHERE aggregate_id = $1`, e.ID.String()).Scan(&outboxRows))
	s.Equal(1, outboxRows)
}

func (s *PostgresStoreSuite) TestImmutableColumnsAreGuarded() {
	e := s.newEvent(time.Now())
	s.Require().NoError(s.store.Append(s.ctx, e))

	_, err := s.pg.DB.ExecContext(s.ctx, `UPDATE audit_events SET new_values = '{"quantity":300}' WHERE id = $1`, e.ID.String())
	s.Error(err)

	s.NoError(s.store.MarkVerified(s.ctx, e.ID, time.Now().UTC()))
}

func (s *PostgresStoreSuite) TestRetentionQueries() {
	old := s.newEvent(time.Now().AddDate(-8, 0, 0))
	fresh := s.newEvent(time.Now())
	s.Require().NoError(s.store.Append(s.ctx, old))
	s.Require().NoError(s.store.Append(s.ctx, fresh))

	expired, err := s.store.ListExpired(s.ctx, time.Now().UTC(), nil, 10)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(old.ID, expired[0].ID)

	s.Require().NoError(s.store.MarkArchived(s.ctx, old.ID, time.Now().UTC()))
	s.ErrorIs(s.store.MarkArchived(s.ctx, old.ID, time.Now().UTC()), sentinel.ErrNotFound)

	listed, err := s.store.List(s.ctx, models.EventFilter{}, nil, 10, time.Time{})
	s.Require().NoError(err)
	s.Len(listed, 1, "archived events are hidden by default")

	s.Require().NoError(s.store.Delete(s.ctx, old.ID))
	_, err = s.store.FindByID(s.ctx, old.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
