package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaudit/internal/platform/kafka"
	"pharmaudit/pkg/platform/circuit"
)

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []kafka.Message
}

func (p *fakePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func seed(store *InMemoryStore, n int) {
	for range n {
		id := uuid.New()
		store.Add(Entry{ID: id, AggregateType: "audit_event", AggregateID: id.String(), EventType: "login", Payload: []byte(`{}`), CreatedAt: time.Now()})
	}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRelay_RunOncePublishesAllBatches(t *testing.T) {
	store := NewInMemoryStore()
	seed(store, 7)
	pub := &fakePublisher{}
	m := NewMetrics(prometheus.NewRegistry())
	relay := NewRelay(store, pub, WithBatchSize(3), WithMetrics(m), WithLogger(quietLogger()))

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 0, store.Pending())
	assert.Equal(t, 7, pub.count())
	assert.Equal(t, float64(7), testutil.ToFloat64(m.Published))

	first := pub.sent[0]
	assert.Equal(t, "login", first.Headers["event_type"])
	assert.NotEmpty(t, first.Key)
}

func TestRelay_FailureKeepsEntriesAndOpensBreaker(t *testing.T) {
	store := NewInMemoryStore()
	seed(store, 2)
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Minute), circuit.WithClock(func() time.Time { return now }))
	m := NewMetrics(prometheus.NewRegistry())
	relay := NewRelay(store, pub, WithBreaker(breaker), WithMetrics(m), WithLogger(quietLogger()))

	_, err := relay.RunOnce(context.Background())
	require.Error(t, err)
	_, err = relay.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BreakerState))
	assert.Equal(t, 2, store.Pending())

	// Open breaker skips the attempt entirely.
	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Failures))

	// After cooldown a trial call succeeds and the breaker closes.
	pub.err = nil
	now = now.Add(2 * time.Minute)
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.BreakerState))
}

func TestRelay_StartStop(t *testing.T) {
	store := NewInMemoryStore()
	seed(store, 3)
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, WithInterval(10*time.Millisecond), WithLogger(quietLogger()))

	relay.Start(context.Background())
	assert.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 5*time.Millisecond)
	relay.Stop()
	relay.Stop()
}
