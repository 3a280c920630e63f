// Package handler exposes the audit trail over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pharmaudit/internal/audit/models"
	"pharmaudit/internal/authz"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/httputil"
	"pharmaudit/pkg/requestcontext"
)

// Service is the part of the recorder the handler needs.
type Service interface {
	Record(ctx context.Context, req *models.RecordRequest) (*models.AuditEvent, error)
	Get(ctx context.Context, eventID id.EventID) (*models.AuditEvent, error)
	List(ctx context.Context, filter models.EventFilter, cursorToken string, limit int) (*models.Page, error)
	Verify(ctx context.Context, eventID id.EventID) (*models.VerificationResult, error)
	Stats(ctx context.Context, from, to *time.Time) (*models.Stats, error)
}

// Handler wires audit endpoints to the recorder.
type Handler struct {
	service Service
	checker authz.Checker
	logger  *slog.Logger
}

// New constructs an audit handler.
func New(service Service, checker authz.Checker, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		checker: checker,
		logger:  logger,
	}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/audit/events", h.HandleRecord)
	r.Get("/audit/events", h.HandleList)
	r.Get("/audit/events/{id}", h.HandleGet)
	r.Post("/audit/events/{id}/verify", h.HandleVerify)
	r.Get("/audit/stats", h.HandleStats)
}

// HandleRecord handles POST /audit/events.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.RequireFromContext(ctx, h.checker, authz.CapAuditWrite)
	if err != nil {
		h.logger.WarnContext(ctx, "audit write denied", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.RecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	// Interactive callers record their own actions; service principals
	// record on behalf of others or as the system.
	if req.Actor == nil && !caller.HasRole(authz.RoleService) {
		req.Actor = &models.ActorRequest{UserID: models.OpaqueID(caller.UserID), Name: caller.Name, Type: caller.Type}
	}

	event, err := h.service.Record(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to record audit event",
			"request_id", requestID,
			"event_type", req.EventType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(event))
}

// HandleList handles GET /audit/events.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, err := authz.RequireFromContext(ctx, h.checker, authz.CapAuditRead); err != nil {
		httputil.WriteError(w, err)
		return
	}

	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		h.logger.WarnContext(ctx, "invalid audit list query", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.List(ctx, q.Filter, q.Cursor, q.Limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleGet handles GET /audit/events/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := authz.RequireFromContext(ctx, h.checker, authz.CapAuditRead); err != nil {
		httputil.WriteError(w, err)
		return
	}
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	event, err := h.service.Get(ctx, eventID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}

// HandleVerify handles POST /audit/events/{id}/verify. A mismatch answers
// 422 with the verification body so operators see which checksum failed.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if _, err := authz.RequireFromContext(ctx, h.checker, authz.CapAuditVerify); err != nil {
		httputil.WriteError(w, err)
		return
	}
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Verify(ctx, eventID)
	if err != nil {
		if result != nil && dErrors.HasCode(err, dErrors.CodeIntegrity) {
			h.logger.ErrorContext(ctx, "audit event failed verification",
				"request_id", requestID,
				"event_id", eventID,
			)
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, verifyResponse{
				VerificationResult: result,
				Error:              string(dErrors.CodeIntegrity),
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{VerificationResult: result})
}

// HandleStats handles GET /audit/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := authz.RequireFromContext(ctx, h.checker, authz.CapAuditRead); err != nil {
		httputil.WriteError(w, err)
		return
	}
	from, err := id.ParseOptionalDate("date_from", r.URL.Query().Get("date_from"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := id.ParseOptionalEndDate("date_to", r.URL.Query().Get("date_to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stats, err := h.service.Stats(ctx, from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
