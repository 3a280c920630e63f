// Package handler exposes retention cleanup to operators.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pharmaudit/internal/retention/models"
	"pharmaudit/pkg/platform/httputil"
	"pharmaudit/pkg/requestcontext"
)

// Service runs cleanup for an authenticated caller.
type Service interface {
	RunCleanup(ctx context.Context, req *models.RunRequest) (*models.CleanupReport, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts retention endpoints. The caller wraps the router with
// the admin token guard.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/retention/run", h.HandleRun)
}

// HandleRun handles POST /admin/retention/run.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RunRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report, err := h.service.RunCleanup(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "retention cleanup request failed",
			"request_id", requestID,
			"dry_run", req.DryRun,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
