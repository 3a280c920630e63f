package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pharmaudit/internal/platform/kafka"
	"pharmaudit/pkg/platform/circuit"
)

// Source yields pending entries in claimed batches.
type Source interface {
	Process(ctx context.Context, limit int, publish func(context.Context, []Entry) error) (int, error)
}

// Publisher delivers messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Metrics for the relay.
type Metrics struct {
	Published    prometheus.Counter
	Failures     prometheus.Counter
	BreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmaudit_outbox_published_total",
			Help: "Total outbox entries published to Kafka",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmaudit_outbox_publish_failures_total",
			Help: "Total failed publish attempts",
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "pharmaudit_outbox_circuit_breaker_state",
			Help: "Relay circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

// Relay polls the outbox and publishes batches until stopped.
type Relay struct {
	source    Source
	publisher Publisher
	breaker   *circuit.Breaker
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) { r.breaker = b }
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(source Source, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		breaker:   circuit.New("outbox-relay", circuit.WithFailureThreshold(3), circuit.WithCooldown(30*time.Second)),
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce drains pending entries batch by batch. It stops at the first
// failure or when the breaker refuses the attempt.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		if !r.breaker.Allow() {
			return total, nil
		}
		n, err := r.source.Process(ctx, r.batchSize, r.publish)
		if err != nil {
			r.onFailure(ctx, err)
			return total, err
		}
		r.onSuccess(ctx)
		total += n
		if n < r.batchSize {
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, entries []Entry) error {
	msgs := make([]kafka.Message, len(entries))
	for i, e := range entries {
		msgs[i] = kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: map[string]string{
				"event_type":     e.EventType,
				"aggregate_type": e.AggregateType,
				"outbox_id":      e.ID.String(),
			},
		}
	}
	if err := r.publisher.Publish(ctx, msgs...); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.Published.Add(float64(len(entries)))
	}
	return nil
}

func (r *Relay) onFailure(ctx context.Context, err error) {
	if r.metrics != nil {
		r.metrics.Failures.Inc()
	}
	_, change := r.breaker.RecordFailure()
	if change.Opened {
		r.setBreakerGauge(1)
		r.logger.WarnContext(ctx, "outbox relay circuit opened", "error", err)
		return
	}
	r.logger.WarnContext(ctx, "outbox publish failed", "error", err)
}

func (r *Relay) onSuccess(ctx context.Context) {
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.setBreakerGauge(0)
		r.logger.InfoContext(ctx, "outbox relay circuit closed")
	}
}

func (r *Relay) setBreakerGauge(v float64) {
	if r.metrics != nil {
		r.metrics.BreakerState.Set(v)
	}
}

// Start launches the polling loop. It returns immediately.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
	r.logger.InfoContext(ctx, "outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
}

// Stop cancels the loop and waits for the in-flight batch.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Relay) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		_, _ = r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
