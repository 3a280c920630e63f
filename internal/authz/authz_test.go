package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/requestcontext"
)

func TestRoleChecker_Require(t *testing.T) {
	checker := NewRoleChecker(nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		caller   requestcontext.Caller
		cap      Capability
		wantCode dErrors.Code
	}{
		{"officer may review", requestcontext.Caller{UserID: "7", Roles: []string{RoleComplianceOfficer}}, CapReportsReview, ""},
		{"auditor may read reports", requestcontext.Caller{UserID: "8", Roles: []string{RoleAuditor}}, CapReportsRead, ""},
		{"auditor may not review", requestcontext.Caller{UserID: "8", Roles: []string{RoleAuditor}}, CapReportsReview, dErrors.CodeForbidden},
		{"pharmacist may record", requestcontext.Caller{UserID: "9", Roles: []string{RolePharmacist}}, CapAuditWrite, ""},
		{"pharmacist may not run retention", requestcontext.Caller{UserID: "9", Roles: []string{RolePharmacist}}, CapRetentionRun, dErrors.CodeForbidden},
		{"any granting role suffices", requestcontext.Caller{UserID: "1", Roles: []string{RolePharmacist, RoleAdmin}}, CapRetentionRun, ""},
		{"unknown role grants nothing", requestcontext.Caller{UserID: "2", Roles: []string{"intern"}}, CapAuditRead, dErrors.CodeForbidden},
		{"anonymous caller", requestcontext.Caller{}, CapAuditRead, dErrors.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.Require(ctx, tt.caller, tt.cap)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestRoleChecker_CustomGrants(t *testing.T) {
	checker := NewRoleChecker(map[string][]Capability{"qa": {CapReportsReview}})
	err := checker.Require(context.Background(), requestcontext.Caller{UserID: "3", Roles: []string{"qa"}}, CapReportsReview)
	assert.NoError(t, err)

	err = checker.Require(context.Background(), requestcontext.Caller{UserID: "3", Roles: []string{RoleAdmin}}, CapReportsReview)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestRequireFromContext(t *testing.T) {
	checker := NewRoleChecker(nil)

	_, err := RequireFromContext(context.Background(), checker, CapAuditRead)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	ctx := requestcontext.WithPrincipal(context.Background(), requestcontext.Caller{UserID: "5", Roles: []string{RoleAuditor}})
	caller, err := RequireFromContext(ctx, checker, CapAuditRead)
	require.NoError(t, err)
	assert.Equal(t, "5", caller.UserID)
}
