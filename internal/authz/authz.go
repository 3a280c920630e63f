// Package authz answers whether a caller may perform an operation. Services
// receive a Checker instead of reading roles themselves.
package authz

import (
	"context"
	"slices"

	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/requestcontext"
)

// Capability names an operation that can be granted to a role.
type Capability string

const (
	CapAuditWrite      Capability = "audit:write"
	CapAuditRead       Capability = "audit:read"
	CapAuditVerify     Capability = "audit:verify"
	CapReportsGenerate Capability = "reports:generate"
	CapReportsRead     Capability = "reports:read"
	CapReportsReview   Capability = "reports:review"
	CapRetentionRun    Capability = "retention:run"
)

// Roles recognised by the default checker.
const (
	RoleAdmin             = "admin"
	RoleComplianceOfficer = "compliance_officer"
	RolePharmacist        = "pharmacist"
	RoleAuditor           = "auditor"
	RoleService           = "service"
)

// Checker decides whether caller holds capability.
type Checker interface {
	Require(ctx context.Context, caller requestcontext.Caller, capability Capability) error
}

// DefaultGrants is the role table used when none is configured.
func DefaultGrants() map[string][]Capability {
	return map[string][]Capability{
		RoleAdmin: {
			CapAuditWrite, CapAuditRead, CapAuditVerify,
			CapReportsGenerate, CapReportsRead, CapReportsReview,
			CapRetentionRun,
		},
		RoleComplianceOfficer: {
			CapAuditRead, CapAuditVerify,
			CapReportsGenerate, CapReportsRead, CapReportsReview,
		},
		RoleAuditor:    {CapAuditRead, CapAuditVerify, CapReportsRead},
		RolePharmacist: {CapAuditWrite},
		RoleService:    {CapAuditWrite},
	}
}

// RoleChecker grants capabilities through a static role table.
type RoleChecker struct {
	grants map[string][]Capability
}

// NewRoleChecker builds a checker. A nil table uses DefaultGrants.
func NewRoleChecker(grants map[string][]Capability) *RoleChecker {
	if grants == nil {
		grants = DefaultGrants()
	}
	return &RoleChecker{grants: grants}
}

// Require returns CodeUnauthorized for an anonymous caller and CodeForbidden
// when none of the caller's roles grants capability.
func (c *RoleChecker) Require(_ context.Context, caller requestcontext.Caller, capability Capability) error {
	if caller.UserID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	for _, role := range caller.Roles {
		if slices.Contains(c.grants[role], capability) {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeForbidden, "missing capability "+string(capability))
}

// RequireFromContext checks the principal stored in ctx.
func RequireFromContext(ctx context.Context, checker Checker, capability Capability) (requestcontext.Caller, error) {
	caller, ok := requestcontext.Principal(ctx)
	if !ok {
		return requestcontext.Caller{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := checker.Require(ctx, caller, capability); err != nil {
		return caller, err
	}
	return caller, nil
}
