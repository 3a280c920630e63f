package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pharmaudit/pkg/platform/httputil"
	"pharmaudit/pkg/requestcontext"
)

// Metrics counts throttling decisions.
type Metrics struct {
	Rejected *prometheus.CounterVec
	Errors   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaudit_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"class"}),
		Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmaudit_ratelimit_errors_total",
			Help: "Rate limit checks that failed and let the request through",
		}),
	}
}

type exceededResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	RetryAfter  int    `json:"retry_after"`
}

// Middleware applies Limits to authenticated callers, or to the client IP
// when there is no caller.
type Middleware struct {
	store   Store
	limits  Limits
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func New(store Store, limits Limits, logger *slog.Logger, metrics *Metrics) *Middleware {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	return &Middleware{store: store, limits: limits, logger: logger, metrics: metrics, now: time.Now}
}

// Handler is the chi middleware. Store failures fail open.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := Classify(r)
		limit := m.limits.budget(class)
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		subject := "ip:" + requestcontext.ClientIP(ctx)
		if caller, ok := requestcontext.Principal(ctx); ok && caller.UserID != "" {
			subject = "user:" + caller.UserID
		}

		result, err := m.store.Allow(ctx, string(class)+":"+subject, limit, m.limits.Window)
		if err != nil {
			if m.metrics != nil {
				m.metrics.Errors.Inc()
			}
			m.logger.WarnContext(ctx, "rate limit check failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.Rejected.WithLabelValues(string(class)).Inc()
			}
			retry := result.RetryAfter(m.now())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
				Error:       "rate_limit_exceeded",
				Description: "too many " + string(class) + " requests, retry later",
				RetryAfter:  retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
