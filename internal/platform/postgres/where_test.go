package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhere(t *testing.T) {
	t.Run("empty renders nothing", func(t *testing.T) {
		var w Where
		assert.Empty(t, w.SQL())
		assert.Empty(t, w.Args)
	})

	t.Run("numbers placeholders in order", func(t *testing.T) {
		var w Where
		w.Add("status = ?", "completed")
		w.Add("NOT is_archived")
		w.Add("(created_at, id) < (?, ?)", "2025-01-01", "abc")
		limit := w.Arg(50)

		assert.Equal(t, " WHERE status = $1 AND NOT is_archived AND (created_at, id) < ($2, $3)", w.SQL())
		assert.Equal(t, "$4", limit)
		assert.Equal(t, []any{"completed", "2025-01-01", "abc", 50}, w.Args)
	})
}
