package testutil

import (
	"context"
	"net/http"
	"time"

	"pharmaudit/pkg/requestcontext"
)

// Roles used across handler and service tests.
const (
	RoleAdmin             = "admin"
	RoleComplianceOfficer = "compliance_officer"
	RolePharmacist        = "pharmacist"
	RoleAuditor           = "auditor"
	RoleService           = "service"
)

// Caller builds a request caller with the given roles.
func Caller(userID string, roles ...string) requestcontext.Caller {
	return requestcontext.Caller{UserID: userID, Name: "user-" + userID, Type: "staff", Roles: roles}
}

// CtxAs returns a background context authenticated as the given caller.
// This simulates what the auth middleware would do for authenticated requests.
func CtxAs(userID string, roles ...string) context.Context {
	return requestcontext.WithPrincipal(context.Background(), Caller(userID, roles...))
}

// WithCaller adds an authenticated caller to the request context.
func WithCaller(req *http.Request, userID string, roles ...string) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), Caller(userID, roles...)))
}

// AtTime pins the request-scoped clock.
func AtTime(ctx context.Context, t time.Time) context.Context {
	return requestcontext.WithTime(ctx, t)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
