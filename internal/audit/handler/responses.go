package handler

import (
	"pharmaudit/internal/audit/models"
	id "pharmaudit/pkg/domain"
)

// RecordResponse is returned by POST /audit/events.
type RecordResponse struct {
	ID                 id.EventID                `json:"id"`
	Checksum           string                    `json:"checksum"`
	RiskLevel          models.RiskLevel          `json:"risk_level"`
	DataClassification models.DataClassification `json:"data_classification"`
}

func toRecordResponse(e *models.AuditEvent) RecordResponse {
	return RecordResponse{
		ID:                 e.ID,
		Checksum:           e.Checksum,
		RiskLevel:          e.RiskLevel,
		DataClassification: e.DataClassification,
	}
}

type verifyResponse struct {
	*models.VerificationResult
	Error string `json:"error,omitempty"`
}
