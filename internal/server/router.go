package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	audithandler "pharmaudit/internal/audit/handler"
	jwttoken "pharmaudit/internal/jwt_token"
	"pharmaudit/internal/platform/middleware"
	reporthandler "pharmaudit/internal/reports/handler"
	retentionhandler "pharmaudit/internal/retention/handler"
	"pharmaudit/pkg/platform/httputil"
	"pharmaudit/pkg/platform/middleware/admin"
	"pharmaudit/pkg/platform/middleware/auth"
	"pharmaudit/pkg/platform/middleware/metadata"
	"pharmaudit/pkg/platform/middleware/requesttime"
)

// Router builds the HTTP API. Health and metrics are public; every other
// route needs a bearer token, and admin routes also need the admin token.
func (a *App) Router() http.Handler {
	cfg := a.Config
	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience))

	r := chi.NewRouter()
	r.Use(middleware.Recovery(a.Logger, a.httpMetrics))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(a.Logger, a.httpMetrics))

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		r.Use(auth.RequireAuth(validator, a.Logger))
		if a.limiter != nil {
			r.Use(a.limiter.Handler)
		}
		audithandler.New(a.Audit, a.checker, a.Logger).Register(r)
		reporthandler.New(a.Reports, a.Logger).Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.Auth.AdminToken, a.Logger))
		r.Use(auth.RequireAuth(validator, a.Logger))
		retentionhandler.New(a.Retention, a.Logger).Register(r)
	})
	return r
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

func (a *App) addHealth(name string, check func(context.Context) error) {
	a.health = append(a.health, healthCheck{name: name, check: check})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth reports 503 when any dependency fails its ping.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(a.health))}
	status := http.StatusOK
	for _, h := range a.health {
		if err := h.check(ctx); err != nil {
			resp.Checks[h.name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[h.name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}
