package analysis

import (
	"maps"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"pharmaudit/internal/audit/checksum"
	auditmodels "pharmaudit/internal/audit/models"
	"pharmaudit/internal/reports/models"
)

// Finding categories used by the built-in analyzers.
const (
	catUnattributedPHI          = "unattributed_phi_access"
	catBulkPHIAccess            = "bulk_phi_access"
	catAfterHoursPHI            = "after_hours_phi_access"
	catDeniedPHI                = "denied_phi_access"
	catUnattributedControlled   = "unattributed_controlled_substance_action"
	catMissingPrescriptionRef   = "missing_prescription_reference"
	catDeniedControlled         = "denied_controlled_substance_action"
	catMisclassifiedCardholder  = "misclassified_cardholder_data"
	catUnattributedRefund       = "unattributed_refund"
	catDeniedPayment            = "denied_payment_operation"
	catMissingChecksum          = "missing_checksum"
	catChecksumMismatch         = "checksum_mismatch"
	catUnverified               = "unverified_event"
	catRetentionDisabled        = "retention_disabled_for_regulated_data"
	catShortPHIRetention        = "short_phi_retention"
	catShortControlledRetention = "short_controlled_substance_retention"
	catArchived                 = "archived_event"
	catRepeatedDenials          = "repeated_access_denials"
	catPrivilegeChange          = "privilege_change"
	catCriticalEvent            = "critical_security_event"
	catIntegrityIncident        = "integrity_violation_detected"
	catHighRiskDenied           = "denied_high_risk_operation"
	catBruteForce               = "brute_force_suspected"
	catLockoutRisk              = "account_lockout_risk"
	catUnattributedExport       = "unattributed_export"
	catPHIExport                = "phi_export"
	catDuplicateDispensing      = "duplicate_dispensing"
	catSelfDispensing           = "self_dispensing"
)

const (
	minPHIRetentionYears        = 6
	minControlledRetentionYears = 2
)

func builtins() map[string]Analyzer {
	logins := auditmodels.EventFilter{EventTypes: []string{auditmodels.EventLogin, auditmodels.EventLoginFailed}}
	exports := auditmodels.EventFilter{EventTypes: []string{auditmodels.EventDataExported}}
	prescriptions := auditmodels.EventFilter{EventTypes: []string{
		auditmodels.EventPrescriptionCreated, auditmodels.EventPrescriptionDispensed, auditmodels.EventPrescriptionViewed,
	}}
	return map[string]Analyzer{
		models.TypeHIPAAAccess:             analyzer{"HIPAA", auditmodels.EventFilter{PHIOnly: true}, newHIPAAPass},
		models.TypeDEAControlledSubstances: analyzer{"DEA", auditmodels.EventFilter{ControlledOnly: true}, newDEAPass},
		models.TypePCICompliance:           analyzer{"PCI-DSS", auditmodels.EventFilter{FinancialOnly: true}, newPCIPass},
		models.TypeAuditTrail:              analyzer{"HIPAA", auditmodels.EventFilter{IncludeArchived: true}, newAuditTrailPass},
		models.TypeDataRetention:           analyzer{"HIPAA", auditmodels.EventFilter{IncludeArchived: true}, newRetentionPass},
		models.TypeUserAccess:              analyzer{"HIPAA", auditmodels.EventFilter{}, newUserAccessPass},
		models.TypeSecurityIncidents:       analyzer{"HIPAA", auditmodels.EventFilter{MinRiskLevel: auditmodels.RiskHigh}, newSecurityPass},
		models.TypeFailedLogins:            analyzer{"HIPAA", logins, newFailedLoginPass},
		models.TypeDataExports:             analyzer{"HIPAA", exports, newExportPass},
		models.TypePrescriptionMonitoring:  analyzer{"DEA", prescriptions, newPrescriptionPass},
	}
}

// analyzer adapts a pass constructor to the Analyzer interface.
type analyzer struct {
	framework string
	predicate auditmodels.EventFilter
	begin     func(Config) Pass
}

func (a analyzer) Framework() string                  { return a.framework }
func (a analyzer) Predicate() auditmodels.EventFilter { return a.predicate }
func (a analyzer) Begin(cfg Config) Pass              { return a.begin(cfg.withDefaults()) }

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func (c Config) afterHours(e *auditmodels.AuditEvent) bool {
	h := e.CreatedAt.UTC().Hour()
	return h < c.BusinessHourStart || h >= c.BusinessHourEnd
}

// hipaa_access

type hipaaPass struct {
	cfg      Config
	t        *tally
	total    int
	denied   int
	patients map[string]struct{}
	byActor  map[string][]string
}

func newHIPAAPass(cfg Config) Pass {
	return &hipaaPass{cfg: cfg, t: newTally(), patients: make(map[string]struct{}), byActor: make(map[string][]string)}
}

func (p *hipaaPass) Observe(e *auditmodels.AuditEvent) {
	p.total++
	if e.Entity.ID != "" {
		p.patients[e.Entity.Type+":"+e.Entity.ID] = struct{}{}
	}
	if e.Actor == nil {
		p.t.add(models.SeverityViolation, catUnattributedPHI, "PHI was accessed without an identified user", e)
	} else {
		p.byActor[e.Actor.UserID] = append(p.byActor[e.Actor.UserID], e.ID.String())
	}
	if !e.AccessGranted {
		p.denied++
		p.t.add(models.SeverityWarning, catDeniedPHI, "PHI access was attempted and denied", e)
	}
	if p.cfg.afterHours(e) && e.AccessGranted {
		p.t.add(models.SeverityWarning, catAfterHoursPHI, "PHI was accessed outside business hours", e)
	}
}

func (p *hipaaPass) Finish() Result {
	for _, actor := range sortedKeys(p.byActor) {
		ids := p.byActor[actor]
		if len(ids) > p.cfg.BulkAccessThreshold {
			p.t.addCount(models.SeverityViolation, catBulkPHIAccess, "user accessed PHI more often than the bulk access threshold", actor, 1, ids)
		}
	}
	return p.t.result(map[string]decimal.Decimal{
		"phi_access_events": decimal.NewFromInt(int64(p.total)),
		"distinct_records":  decimal.NewFromInt(int64(len(p.patients))),
		"denied_rate_pct":   percent(p.denied, p.total),
	})
}

// dea_controlled_substances

type deaPass struct {
	t         *tally
	total     int
	dispensed int
	created   int
}

func newDEAPass(Config) Pass { return &deaPass{t: newTally()} }

func (p *deaPass) Observe(e *auditmodels.AuditEvent) {
	p.total++
	switch e.EventType {
	case auditmodels.EventPrescriptionDispensed:
		p.dispensed++
		if e.Entity.ID == "" {
			p.t.add(models.SeverityViolation, catMissingPrescriptionRef, "controlled substance dispensed without a prescription reference", e)
		}
	case auditmodels.EventPrescriptionCreated:
		p.created++
	}
	if e.Actor == nil {
		p.t.add(models.SeverityViolation, catUnattributedControlled, "controlled substance action without an identified user", e)
	}
	if !e.AccessGranted {
		p.t.add(models.SeverityWarning, catDeniedControlled, "controlled substance action was denied", e)
	}
}

func (p *deaPass) Finish() Result {
	return p.t.result(map[string]decimal.Decimal{
		"controlled_substance_events": decimal.NewFromInt(int64(p.total)),
		"prescriptions_created":       decimal.NewFromInt(int64(p.created)),
		"prescriptions_dispensed":     decimal.NewFromInt(int64(p.dispensed)),
	})
}

// pci_compliance

type pciPass struct {
	t        *tally
	total    int
	payments int
	refunds  int
}

func newPCIPass(Config) Pass { return &pciPass{t: newTally()} }

func (p *pciPass) Observe(e *auditmodels.AuditEvent) {
	p.total++
	if e.DataClassification != auditmodels.ClassPCI {
		p.t.add(models.SeverityViolation, catMisclassifiedCardholder, "financial event not classified as cardholder data", e)
	}
	switch e.EventType {
	case auditmodels.EventPaymentProcessed:
		p.payments++
	case auditmodels.EventRefundIssued:
		p.refunds++
		if e.Actor == nil {
			p.t.add(models.SeverityViolation, catUnattributedRefund, "refund issued without an identified user", e)
		}
	}
	if !e.AccessGranted {
		p.t.add(models.SeverityWarning, catDeniedPayment, "payment operation was denied", e)
	}
}

func (p *pciPass) Finish() Result {
	return p.t.result(map[string]decimal.Decimal{
		"financial_events":   decimal.NewFromInt(int64(p.total)),
		"payments_processed": decimal.NewFromInt(int64(p.payments)),
		"refunds_issued":     decimal.NewFromInt(int64(p.refunds)),
		"refund_ratio_pct":   percent(p.refunds, p.payments),
	})
}

// audit_trail recomputes every checksum.

type auditTrailPass struct {
	t        *tally
	total    int
	verified int
	valid    int
}

func newAuditTrailPass(Config) Pass { return &auditTrailPass{t: newTally()} }

func (p *auditTrailPass) Observe(e *auditmodels.AuditEvent) {
	p.total++
	if e.Checksum == "" {
		p.t.add(models.SeverityViolation, catMissingChecksum, "event has no integrity checksum", e)
		return
	}
	if ok, _ := checksum.Verify(e); !ok {
		p.t.add(models.SeverityViolation, catChecksumMismatch, "stored checksum does not match the event contents", e)
		return
	}
	p.valid++
	if e.IsVerified {
		p.verified++
	} else {
		p.t.add(models.SeverityException, catUnverified, "event has not been through a verification pass", e)
	}
}

func (p *auditTrailPass) Finish() Result {
	return p.t.result(map[string]decimal.Decimal{
		"events_checked":  decimal.NewFromInt(int64(p.total)),
		"checksum_ok_pct": percent(p.valid, p.total),
		"verified_pct":    percent(p.verified, p.total),
	})
}

// data_retention

type retentionPass struct {
	t         *tally
	total     int
	regulated int
	archived  int
}

func newRetentionPass(Config) Pass { return &retentionPass{t: newTally()} }

func (p *retentionPass) Observe(e *auditmodels.AuditEvent) {
	p.total++
	regulated := e.IsPHIAccess || e.IsControlledSubstance || e.IsFinancialData
	if regulated {
		p.regulated++
		if !e.RequiresRetention {
			p.t.add(models.SeverityViolation, catRetentionDisabled, "regulated event is not marked for retention", e)
		}
	}
	if e.IsPHIAccess && e.RetentionYears < minPHIRetentionYears {
		p.t.add(models.SeverityViolation, catShortPHIRetention, "PHI event retained for less than six years", e)
	}
	if e.IsControlledSubstance && e.RetentionYears < minControlledRetentionYears {
		p.t.add(models.SeverityViolation, catShortControlledRetention, "controlled substance event retained for less than two years", e)
	}
	if e.IsArchived {
		p.archived++
		p.t.add(models.SeverityException, catArchived, "event has moved to cold storage", e)
	}
}

func (p *retentionPass) Finish() Result {
	return p.t.result(map[string]decimal.Decimal{
		"events_checked":   decimal.NewFromInt(int64(p.total)),
		"regulated_events": decimal.NewFromInt(int64(p.regulated)),
		"archived_events":  decimal.NewFromInt(int64(p.archived)),
	})
}

// user_access

type userAccessPass struct {
	cfg     Config
	t       *tally
	total   int
	denied  map[string][]string
	nDenied int
}

func newUserAccessPass(cfg Config) Pass {
	return &userAccessPass{cfg: cfg, t: newTally(), denied: make(map[string][]string)}
}

func isPrivilegeChange(eventType string) bool {
	return strings.Contains(eventType, "role") || strings.Contains(eventType, "permission")
}

func (p *userAccessPass) Observe(e *auditmodels.AuditEvent) {
	p.total++
	if !e.AccessGranted {
		p.nDenied++
		if actor := e.ActorUserID(); actor != "" {
			p.denied[actor] = append(p.denied[actor], e.ID.String())
		}
	}
	if isPrivilegeChange(e.EventType) {
		p.t.add(models.SeverityWarning, catPrivilegeChange, "user privileges were changed", e)
	}
}

func (p *userAccessPass) Finish() Result {
	for _, actor := range sortedKeys(p.denied) {
		ids := p.denied[actor]
		if len(ids) >= p.cfg.FailedLoginThreshold {
			p.t.addCount(models.SeverityWarning, catRepeatedDenials, "user was repeatedly denied access", actor, len(ids), ids)
		}
	}
	return p.t.result(map[string]decimal.Decimal{
		"access_events":   decimal.NewFromInt(int64(p.total)),
		"denied_rate_pct": percent(p.nDenied, p.total),
	})
}

// security_incidents

type securityPass struct {
	t        *tally
	critical int
	high     int
}

func newSecurityPass(Config) Pass { return &securityPass{t: newTally()} }

func (p *securityPass) Observe(e *auditmodels.AuditEvent) {
	switch e.RiskLevel {
	case auditmodels.RiskCritical:
		p.critical++
	case auditmodels.RiskHigh:
		p.high++
	}
	switch {
	case e.EventType == auditmodels.EventIntegrityViolationDetected:
		p.t.add(models.SeverityViolation, catIntegrityIncident, "an audit record failed integrity verification", e)
	case e.RiskLevel == auditmodels.RiskCritical:
		p.t.add(models.SeverityViolation, catCriticalEvent, "critical risk event", e)
	case !e.AccessGranted:
		p.t.add(models.SeverityWarning, catHighRiskDenied, "high risk operation was denied", e)
	}
}

func (p *securityPass) Finish() Result {
	return p.t.result(map[string]decimal.Decimal{
		"critical_events": decimal.NewFromInt(int64(p.critical)),
		"high_events":     decimal.NewFromInt(int64(p.high)),
	})
}

// failed_logins

type failedLoginPass struct {
	cfg      Config
	t        *tally
	attempts int
	failures int
	byIP     map[string][]string
	byUser   map[string][]string
}

func newFailedLoginPass(cfg Config) Pass {
	return &failedLoginPass{cfg: cfg, t: newTally(), byIP: make(map[string][]string), byUser: make(map[string][]string)}
}

func (p *failedLoginPass) Observe(e *auditmodels.AuditEvent) {
	p.attempts++
	if e.EventType != auditmodels.EventLoginFailed && e.AccessGranted {
		return
	}
	p.failures++
	if e.Request.IP != "" {
		p.byIP[e.Request.IP] = append(p.byIP[e.Request.IP], e.ID.String())
	}
	if actor := e.ActorUserID(); actor != "" {
		p.byUser[actor] = append(p.byUser[actor], e.ID.String())
	}
}

func (p *failedLoginPass) Finish() Result {
	for _, ip := range sortedKeys(p.byIP) {
		ids := p.byIP[ip]
		if len(ids) >= p.cfg.FailedLoginThreshold {
			p.t.addCount(models.SeverityViolation, catBruteForce, "repeated failed logins from "+ip, "", len(ids), ids)
		}
	}
	for _, actor := range sortedKeys(p.byUser) {
		ids := p.byUser[actor]
		if len(ids) >= p.cfg.FailedLoginThreshold {
			p.t.addCount(models.SeverityWarning, catLockoutRisk, "user has repeated failed logins", actor, len(ids), ids)
		}
	}
	return p.t.result(map[string]decimal.Decimal{
		"login_attempts":   decimal.NewFromInt(int64(p.attempts)),
		"failed_logins":    decimal.NewFromInt(int64(p.failures)),
		"failure_rate_pct": percent(p.failures, p.attempts),
	})
}

// data_exports

type exportPass struct {
	t    *tally
	n    int
	nPHI int
}

func newExportPass(Config) Pass { return &exportPass{t: newTally()} }

func (p *exportPass) Observe(e *auditmodels.AuditEvent) {
	p.n++
	if e.Actor == nil {
		p.t.add(models.SeverityViolation, catUnattributedExport, "data exported without an identified user", e)
	}
	if e.IsPHIAccess || e.DataClassification == auditmodels.ClassPHI {
		p.nPHI++
		p.t.add(models.SeverityWarning, catPHIExport, "export contained PHI", e)
	}
}

func (p *exportPass) Finish() Result {
	return p.t.result(map[string]decimal.Decimal{
		"exports":     decimal.NewFromInt(int64(p.n)),
		"phi_exports": decimal.NewFromInt(int64(p.nPHI)),
	})
}

// prescription_monitoring

type prescriptionPass struct {
	t          *tally
	counts     map[string]int
	creators   map[string]string
	dispensers map[string][]*auditmodels.AuditEvent
}

func newPrescriptionPass(Config) Pass {
	return &prescriptionPass{
		t:          newTally(),
		counts:     make(map[string]int),
		creators:   make(map[string]string),
		dispensers: make(map[string][]*auditmodels.AuditEvent),
	}
}

func (p *prescriptionPass) Observe(e *auditmodels.AuditEvent) {
	p.counts[e.EventType]++
	if e.Entity.ID == "" {
		return
	}
	switch e.EventType {
	case auditmodels.EventPrescriptionCreated:
		p.creators[e.Entity.ID] = e.ActorUserID()
	case auditmodels.EventPrescriptionDispensed:
		if e.AccessGranted {
			p.dispensers[e.Entity.ID] = append(p.dispensers[e.Entity.ID], e)
		}
	}
}

func (p *prescriptionPass) Finish() Result {
	for _, rx := range sortedKeys(p.dispensers) {
		events := p.dispensers[rx]
		if len(events) > 1 && events[0].IsControlledSubstance {
			for _, e := range events[1:] {
				p.t.add(models.SeverityViolation, catDuplicateDispensing, "controlled prescription "+rx+" dispensed more than once", e)
			}
		}
		creator, ok := p.creators[rx]
		if !ok || creator == "" {
			continue
		}
		for _, e := range events {
			if e.ActorUserID() == creator {
				p.t.add(models.SeverityViolation, catSelfDispensing, "prescription dispensed by the user who created it", e)
			}
		}
	}
	return p.t.result(map[string]decimal.Decimal{
		"prescriptions_created":   decimal.NewFromInt(int64(p.counts[auditmodels.EventPrescriptionCreated])),
		"prescriptions_dispensed": decimal.NewFromInt(int64(p.counts[auditmodels.EventPrescriptionDispensed])),
		"prescriptions_viewed":    decimal.NewFromInt(int64(p.counts[auditmodels.EventPrescriptionViewed])),
	})
}
