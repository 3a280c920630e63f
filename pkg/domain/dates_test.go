package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pharmaudit/pkg/domain-errors"
)

func TestParseDate(t *testing.T) {
	t.Run("date only is midnight UTC", func(t *testing.T) {
		got, err := ParseDate("period_start", "2025-01-31")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("rfc3339 is converted to UTC", func(t *testing.T) {
		got, err := ParseDate("date_from", "2025-01-31T10:00:00+02:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC), got)
	})

	t.Run("garbage names the field", func(t *testing.T) {
		_, err := ParseDate("period_end", "31/01/2025")
		require.Error(t, err)
		de, ok := dErrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "period_end", de.Field)
		assert.Equal(t, dErrors.CodeValidation, de.Code)
	})

	t.Run("optional empty is nil", func(t *testing.T) {
		got, err := ParseOptionalDate("date_to", "  ")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestParseOptionalEndDate(t *testing.T) {
	t.Run("date only covers the named day", func(t *testing.T) {
		got, err := ParseOptionalEndDate("date_to", "2025-01-31")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *got)
	})

	t.Run("rfc3339 is kept", func(t *testing.T) {
		got, err := ParseOptionalEndDate("date_to", "2025-01-31T10:00:00Z")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC), *got)
	})

	t.Run("empty is nil", func(t *testing.T) {
		got, err := ParseOptionalEndDate("date_to", "")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("garbage names the field", func(t *testing.T) {
		_, err := ParseOptionalEndDate("date_to", "yesterday")
		de, ok := dErrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "date_to", de.Field)
	})
}

func TestAddYears(t *testing.T) {
	leap := time.Date(2024, 2, 29, 13, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 2, 28, 13, 30, 0, 0, time.UTC), AddYears(leap, 1))
	assert.Equal(t, time.Date(2028, 2, 29, 13, 30, 0, 0, time.UTC), AddYears(leap, 4))
	assert.Equal(t, time.Date(2031, 2, 28, 13, 30, 0, 0, time.UTC), AddYears(leap, 7))

	plain := time.Date(2018, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, plain.AddDate(7, 0, 0), AddYears(plain, 7))
}
