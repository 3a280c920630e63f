// Package handler exposes report generation, download and review over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
	"pharmaudit/pkg/platform/httputil"
	"pharmaudit/pkg/requestcontext"
)

// Service is the part of the report service the handler needs. It enforces
// capabilities itself.
type Service interface {
	Generate(ctx context.Context, req *models.GenerateRequest) (*models.ComplianceReport, error)
	Get(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, error)
	List(ctx context.Context, filter models.ReportFilter, cursorToken string, limit int) (*models.Page, error)
	OpenArtifact(ctx context.Context, reportID id.ReportID) (*models.ComplianceReport, *os.File, error)
	Review(ctx context.Context, reportID id.ReportID, req *models.ReviewRequest) (*models.ComplianceReport, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts report endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/compliance/reports", h.HandleGenerate)
	r.Get("/compliance/reports", h.HandleList)
	r.Get("/compliance/reports/{id}", h.HandleGet)
	r.Get("/compliance/reports/{id}/download", h.HandleDownload)
	r.Post("/compliance/reports/{id}/review", h.HandleReview)
}

// HandleGenerate handles POST /compliance/reports. Generation runs in the
// background, so the response carries only the id and current status.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.GenerateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report, err := h.service.Generate(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "report generation rejected",
			"request_id", requestID,
			"report_type", req.ReportType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toGenerateResponse(report))
}

// HandleList handles GET /compliance/reports.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		h.logger.WarnContext(ctx, "invalid report list query", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.List(ctx, q.Filter, q.Cursor, q.Limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleGet handles GET /compliance/reports/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.service.Get(ctx, reportID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleDownload handles GET /compliance/reports/{id}/download.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, f, err := h.service.OpenArtifact(ctx, reportID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to stat report artifact",
			"request_id", requestID,
			"report_id", reportID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	name := fmt.Sprintf("%s_%s.%s", report.ReportType, report.ID, report.File.Format.Extension())
	w.Header().Set("Content-Type", report.File.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Content-SHA256", report.File.Hash)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// HandleReview handles POST /compliance/reports/{id}/review.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ReviewRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report, err := h.service.Review(ctx, reportID, req)
	if err != nil {
		h.logger.WarnContext(ctx, "report review rejected",
			"request_id", requestID,
			"report_id", reportID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
