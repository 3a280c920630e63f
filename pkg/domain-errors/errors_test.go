package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeValidation, "bad period")
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeNotFound, "report not found"))
		assert.True(t, HasCode(err, CodeNotFound))
	})

	t.Run("matches inner code of nested domain errors", func(t *testing.T) {
		inner := New(CodeIntegrity, "checksum mismatch")
		err := Wrap(inner, CodeInternal, "verify failed")
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeIntegrity))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))

	base := errors.New("connection reset")
	err := Wrap(base, CodeInternal, "failed to persist audit event")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "failed to persist audit event: connection reset", err.Error())
}

func TestNewField(t *testing.T) {
	err := NewField(CodeValidation, "notes", "notes are required to reject a report")
	de, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "notes", de.Field)
	assert.Equal(t, CodeValidation, de.Code)
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:   http.StatusBadRequest,
		CodeNotFound:     http.StatusNotFound,
		CodeInvalidState: http.StatusConflict,
		CodeForbidden:    http.StatusForbidden,
		CodeIntegrity:    http.StatusUnprocessableEntity,
		CodeInternal:     http.StatusInternalServerError,
		Code("unknown"):  http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), "code %s", code)
	}
}
