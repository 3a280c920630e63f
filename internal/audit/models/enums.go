package models

import (
	"strings"

	dErrors "pharmaudit/pkg/domain-errors"
)

// RiskLevel is an ordered severity scale.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// RiskLevels lists every level from lowest to highest.
func RiskLevels() []RiskLevel {
	return append([]RiskLevel(nil), riskOrder...)
}

func (r RiskLevel) rank() int {
	for i, l := range riskOrder {
		if l == r {
			return i
		}
	}
	return -1
}

func (r RiskLevel) IsValid() bool { return r.rank() >= 0 }

func (r RiskLevel) String() string { return string(r) }

// AtLeast returns the higher of r and floor.
func (r RiskLevel) AtLeast(floor RiskLevel) RiskLevel {
	if floor.rank() > r.rank() {
		return floor
	}
	return r
}

// Escalate moves one level up, capped at critical.
func (r RiskLevel) Escalate() RiskLevel {
	i := r.rank()
	if i < 0 {
		return RiskMedium
	}
	if i+1 >= len(riskOrder) {
		return RiskCritical
	}
	return riskOrder[i+1]
}

// ParseRiskLevel accepts any casing.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", dErrors.NewField(dErrors.CodeValidation, "risk_level", "risk_level must be one of low, medium, high, critical")
	}
	return r, nil
}

// DataClassification labels the sensitivity of the data an event touched.
type DataClassification string

const (
	ClassPublic       DataClassification = "public"
	ClassInternal     DataClassification = "internal"
	ClassConfidential DataClassification = "confidential"
	ClassPHI          DataClassification = "phi"
	ClassPCI          DataClassification = "pci"
)

// DataClassifications lists every classification.
func DataClassifications() []DataClassification {
	return []DataClassification{ClassPublic, ClassInternal, ClassConfidential, ClassPHI, ClassPCI}
}

func (c DataClassification) IsValid() bool {
	switch c {
	case ClassPublic, ClassInternal, ClassConfidential, ClassPHI, ClassPCI:
		return true
	}
	return false
}

func (c DataClassification) String() string { return string(c) }

// ParseDataClassification accepts any casing.
func ParseDataClassification(s string) (DataClassification, error) {
	c := DataClassification(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", dErrors.NewField(dErrors.CodeValidation, "data_classification", "data_classification must be one of public, internal, confidential, phi, pci")
	}
	return c, nil
}

// Well-known event types. Collaborators may send any other tag.
const (
	EventLogin                      = "login"
	EventLoginFailed                = "login_failed"
	EventLogout                     = "logout"
	EventPrescriptionCreated        = "prescription_created"
	EventPrescriptionDispensed      = "prescription_dispensed"
	EventPrescriptionViewed         = "prescription_viewed"
	EventPatientRecordViewed        = "patient_record_viewed"
	EventPaymentProcessed           = "payment_processed"
	EventRefundIssued               = "refund_issued"
	EventDataExported               = "data_exported"
	EventReportGenerated            = "compliance_report_generated"
	EventReportReviewed             = "compliance_report_reviewed"
	EventRetentionCleanupExecuted   = "retention_cleanup_executed"
	EventIntegrityViolationDetected = "integrity_violation_detected"
)

// Actor types used for events the service records about itself.
const (
	ActorTypeSystem = "system"
)

// InferRiskLevel starts at low, raises the floor for financial, PHI and
// controlled-substance access, and escalates once when access was denied.
func InferRiskLevel(phi, controlled, financial, accessGranted bool) RiskLevel {
	level := RiskLow
	if financial {
		level = level.AtLeast(RiskMedium)
	}
	if phi || controlled {
		level = level.AtLeast(RiskHigh)
	}
	if !accessGranted {
		level = level.Escalate()
	}
	return level
}

// InferDataClassification picks the most sensitive label the flags imply.
func InferDataClassification(phi, controlled, financial bool) DataClassification {
	switch {
	case phi:
		return ClassPHI
	case financial:
		return ClassPCI
	case controlled:
		return ClassConfidential
	default:
		return ClassInternal
	}
}
