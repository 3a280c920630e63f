package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pharmaudit/pkg/domain-errors"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		want       map[string]string
	}{
		{
			name:       "internal error hides its description",
			err:        dErrors.New(dErrors.CodeInternal, "pq: connection reset"),
			wantStatus: http.StatusInternalServerError,
			want:       map[string]string{"error": "internal_error"},
		},
		{
			name:       "unknown error is internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			want:       map[string]string{"error": "internal_error"},
		},
		{
			name:       "validation error names the field",
			err:        dErrors.NewField(dErrors.CodeValidation, "period_end", "period_end must be after period_start"),
			wantStatus: http.StatusBadRequest,
			want: map[string]string{
				"error":             "validation_error",
				"error_description": "period_end must be after period_start",
				"field":             "period_end",
			},
		},
		{
			name:       "wrapped integrity error keeps its code",
			err:        fmt.Errorf("verify: %w", dErrors.New(dErrors.CodeIntegrity, "checksum mismatch")),
			wantStatus: http.StatusUnprocessableEntity,
			want:       map[string]string{"error": "integrity_violation", "error_description": "checksum mismatch"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)
			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tc.want, decodeEnvelope(t, w))
		})
	}
}

type reviewBody struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

func (b *reviewBody) Normalize() { b.Action = strings.ToLower(strings.TrimSpace(b.Action)) }

func (b *reviewBody) Validate() error {
	if b.Action != "approve" && b.Action != "reject" {
		return dErrors.NewField(dErrors.CodeValidation, "action", "action must be approve or reject")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decode := func(body string) (*reviewBody, bool, *httptest.ResponseRecorder) {
		r := httptest.NewRequest(http.MethodPost, "/compliance/reports/r1/review", strings.NewReader(body))
		w := httptest.NewRecorder()
		req, ok := DecodeAndPrepare[reviewBody](w, r, logger, r.Context(), "req-1")
		return req, ok, w
	}

	t.Run("normalizes before validating", func(t *testing.T) {
		req, ok, _ := decode(`{"action":" Approve "}`)
		require.True(t, ok)
		assert.Equal(t, "approve", req.Action)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, ok, w := decode(`{"action":"approve","approver":"me"}`)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad_request", decodeEnvelope(t, w)["error"])
	})

	t.Run("validation failure is written", func(t *testing.T) {
		_, ok, w := decode(`{"action":"escalate"}`)
		assert.False(t, ok)
		assert.Equal(t, "action", decodeEnvelope(t, w)["field"])
	})
}
