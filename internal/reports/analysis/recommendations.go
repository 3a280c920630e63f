package analysis

import (
	"pharmaudit/internal/reports/models"
)

var recommendationByCategory = map[string]string{
	catUnattributedPHI:          "Require an authenticated actor on every PHI access path.",
	catBulkPHIAccess:            "Review bulk PHI access by the listed users and confirm a documented treatment or operations purpose.",
	catAfterHoursPHI:            "Confirm after-hours PHI access against shift rosters.",
	catDeniedPHI:                "Investigate repeated denied PHI access attempts for credential misuse.",
	catUnattributedControlled:   "Block controlled-substance actions that are not tied to a licensed user.",
	catMissingPrescriptionRef:   "Record the prescription identifier on every dispensing event.",
	catDeniedControlled:         "Review denied controlled-substance actions with the pharmacist in charge.",
	catMisclassifiedCardholder:  "Classify financial events as PCI so cardholder data controls apply.",
	catUnattributedRefund:       "Require an authenticated actor to issue refunds.",
	catDeniedPayment:            "Review declined payment operations for fraud patterns.",
	catMissingChecksum:          "Backfill is not possible; investigate how events without checksums were written.",
	catChecksumMismatch:         "Open an incident for tampered audit records and preserve them for forensics.",
	catRetentionDisabled:        "Enable retention on every PHI, controlled-substance and financial event.",
	catShortPHIRetention:        "Retain PHI audit records for at least six years.",
	catShortControlledRetention: "Retain controlled-substance records for at least two years.",
	catRepeatedDenials:          "Review the access rights of users with repeated denials.",
	catPrivilegeChange:          "Reconcile privilege changes with approved access requests.",
	catCriticalEvent:            "Triage every critical security event and document the outcome.",
	catIntegrityIncident:        "Escalate detected integrity violations to the security officer.",
	catHighRiskDenied:           "Investigate denied high-risk operations.",
	catBruteForce:               "Rate limit or block source addresses with repeated failed logins.",
	catLockoutRisk:              "Contact users with repeated failed logins and enforce MFA.",
	catUnattributedExport:       "Require an authenticated actor for every data export.",
	catPHIExport:                "Confirm each PHI export had an authorization on file.",
	catDuplicateDispensing:      "Investigate prescriptions dispensed more than once.",
	catSelfDispensing:           "Enforce separate prescriber and dispenser identities.",
}

const cleanRecommendation = "No violations were found; maintain current controls and continue periodic review."

// Recommendations derives one line per distinct finding category, violations
// before warnings.
func Recommendations(res Result) []string {
	var out []string
	seen := make(map[string]bool)
	for _, group := range [][]models.Finding{res.Violations, res.Warnings} {
		for _, f := range group {
			text, ok := recommendationByCategory[f.Category]
			if !ok || seen[f.Category] {
				continue
			}
			seen[f.Category] = true
			out = append(out, text)
		}
	}
	if len(out) == 0 && len(res.Violations) == 0 {
		return []string{cleanRecommendation}
	}
	return out
}
