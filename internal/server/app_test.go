package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	audithandler "pharmaudit/internal/audit/handler"
	jwttoken "pharmaudit/internal/jwt_token"
	"pharmaudit/internal/platform/config"
	"pharmaudit/internal/ratelimit"
	retentionmodels "pharmaudit/internal/retention/models"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/testutil"
)

const adminToken = "operator-secret"

type AppSuite struct {
	suite.Suite
	app    *App
	router http.Handler
	tokens *jwttoken.JWTService
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func (s *AppSuite) SetupTest() {
	dir := s.T().TempDir()
	cfg := config.Default()
	cfg.Auth.AdminToken = adminToken
	cfg.Reports.ArtifactDir = filepath.Join(dir, "reports")
	cfg.Retention.ArchivePath = filepath.Join(dir, "archive.db")
	cfg.Retention.Interval = 0

	app, err := New(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(err)
	s.app = app
	s.router = app.Router()
	s.tokens = jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
}

func (s *AppSuite) TearDownTest() {
	s.app.Close()
}

func (s *AppSuite) bearer(req *http.Request, userID string, roles ...string) *http.Request {
	token, err := s.tokens.GenerateAccessToken(jwttoken.Identity{UserID: userID, Name: "user-" + userID, ActorType: "staff", Roles: roles}, time.Hour)
	require.NoError(s.T(), err)
	return testutil.WithBearer(req, token)
}

func (s *AppSuite) TestHealthAndMetrics() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	health := testutil.UnmarshalResponse[healthResponse](s.T(), rr)
	s.Equal("ok", health.Status)
	s.Equal("ok", health.Checks["archive"])

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.Contains(rr.Body.String(), "pharmaudit_http_requests_total")
	s.Contains(rr.Body.String(), "go_goroutines")
}

func (s *AppSuite) TestRecordAndRead() {
	body := map[string]any{
		"event_type":              "prescription_dispensed",
		"entity_type":             "Prescription",
		"entity_id":               "rx-100",
		"is_controlled_substance": true,
	}
	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/audit/events", body), "rph-1", testutil.RolePharmacist)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[audithandler.RecordResponse](s.T(), rr)
	s.NotEmpty(created.Checksum)

	req = s.bearer(testutil.NewRequest(s.T(), http.MethodGet, "/audit/events/"+created.ID.String(), nil), "aud-1", testutil.RoleAuditor)
	rr = testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.NotEmpty(rr.Header().Get("X-Request-ID"))
}

func (s *AppSuite) TestRequiresToken() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/audit/events", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))

	req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/compliance/reports", nil), "forged")
	rr = testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
}

func (s *AppSuite) TestRetentionRoute() {
	body := map[string]any{"dry_run": true}

	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/retention/run", body), "admin-1", testutil.RoleAdmin)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeForbidden))

	req = testutil.WithAdminToken(s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/retention/run", body), "admin-1", testutil.RoleAdmin), adminToken)
	rr = testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	rep := testutil.UnmarshalResponse[retentionmodels.CleanupReport](s.T(), rr)
	s.True(rep.DryRun)
	s.Equal(retentionmodels.PolicyArchive, rep.Policy)

	req = testutil.WithAdminToken(s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/retention/run", body), "rph-1", testutil.RolePharmacist), adminToken)
	rr = testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeForbidden))
}

func (s *AppSuite) TestRunStopsOnCancel() {
	s.app.Config.Server.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("Run did not return after cancel")
	}
}

func (s *AppSuite) TestRateLimitedReads() {
	s.app.limiter = ratelimit.New(ratelimit.NewMemory(), ratelimit.Limits{Window: time.Minute, Read: 1}, s.app.Logger, nil)
	router := s.app.Router()

	get := func() *httptest.ResponseRecorder {
		return testutil.DoRequest(router, s.bearer(testutil.NewRequest(s.T(), http.MethodGet, "/audit/stats", nil), "aud-1", testutil.RoleAuditor))
	}
	first := get()
	s.NotEqual(http.StatusTooManyRequests, first.Code)
	s.Equal("1", first.Header().Get("X-RateLimit-Limit"))
	testutil.AssertStatus(s.T(), get(), http.StatusTooManyRequests)

	rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}
