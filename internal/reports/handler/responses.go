package handler

import (
	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
)

// GenerateResponse is returned by POST /compliance/reports.
type GenerateResponse struct {
	ReportID     id.ReportID   `json:"report_id"`
	Status       models.Status `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

func toGenerateResponse(r *models.ComplianceReport) GenerateResponse {
	return GenerateResponse{
		ReportID:     r.ID,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
	}
}
