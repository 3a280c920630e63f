package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pharmaudit/internal/retention/handler/mocks"
	"pharmaudit/internal/retention/models"
	dErrors "pharmaudit/pkg/domain-errors"
	"pharmaudit/pkg/platform/middleware/admin"
	"pharmaudit/pkg/testutil"
)

const adminToken = "letmein"

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	s.router.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(adminToken, logger))
		New(s.service, logger).Register(r)
	})
}

func (s *HandlerSuite) run(body any) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/retention/run", body)
	return testutil.WithCaller(testutil.WithAdminToken(req, adminToken), "admin-1", testutil.RoleAdmin)
}

func (s *HandlerSuite) TestRun() {
	s.Run("dry run returns the plan", func() {
		asOf := time.Date(2032, 6, 1, 3, 0, 0, 0, time.UTC)
		s.service.EXPECT().RunCleanup(gomock.Any(), &models.RunRequest{DryRun: true}).Return(&models.CleanupReport{
			AsOf:          asOf,
			DryRun:        true,
			Policy:        models.PolicyArchive,
			Events:        models.Counts{Scanned: 3, Archived: 2, Purged: 1},
			AffectedCount: 3,
			Details:       []models.Detail{},
		}, nil)

		rr := testutil.DoRequest(s.router, s.run(map[string]any{"dry_run": true}))

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[models.CleanupReport](s.T(), rr)
		s.True(got.DryRun)
		s.Equal(3, got.AffectedCount)
		s.Equal(2, got.Events.Archived)
		s.Equal(asOf, got.AsOf)
	})

	s.Run("unconfirmed run is rejected before the service", func() {
		rr := testutil.DoRequest(s.router, s.run(map[string]any{}))
		env := testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
		s.Equal("confirm", env["field"])
	})

	s.Run("concurrent run conflicts", func() {
		s.service.EXPECT().RunCleanup(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "retention cleanup is already running"))

		rr := testutil.DoRequest(s.router, s.run(map[string]any{"confirm": true}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeConflict))
	})

	s.Run("caller without capability", func() {
		s.service.EXPECT().RunCleanup(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeForbidden, "missing capability retention:run"))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/retention/run", map[string]any{"confirm": true})
		req = testutil.WithCaller(testutil.WithAdminToken(req, adminToken), "rph-1", testutil.RolePharmacist)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeForbidden))
	})

	s.Run("missing admin token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/retention/run", map[string]any{"confirm": true})
		rr := testutil.DoRequest(s.router, testutil.WithCaller(req, "admin-1", testutil.RoleAdmin))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeForbidden))
	})

	s.Run("malformed body", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/retention/run", "not an object")
		rr := testutil.DoRequest(s.router, testutil.WithAdminToken(req, adminToken))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}
