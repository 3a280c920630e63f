package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaudit/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) { return s.claims, s.err }

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("missing header is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAuth(stubValidator{}, logger)(http.NotFoundHandler()).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
		r.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		RequireAuth(stubValidator{err: errors.New("bad signature")}, logger)(http.NotFoundHandler()).ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token stores caller", func(t *testing.T) {
		var caller requestcontext.Caller
		var found bool
		next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			caller, found = requestcontext.Principal(r.Context())
		})
		v := stubValidator{claims: &JWTClaims{UserID: "42", Name: "Dana", ActorType: "pharmacist", Roles: []string{"pharmacist"}, SessionID: "sess-1"}}

		r := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
		r.Header.Set("Authorization", "Bearer good")
		RequireAuth(v, logger)(next).ServeHTTP(httptest.NewRecorder(), r)

		require.True(t, found)
		assert.Equal(t, "42", caller.UserID)
		assert.Equal(t, "pharmacist", caller.Type)
		assert.True(t, caller.HasRole("pharmacist"))
	})
}
