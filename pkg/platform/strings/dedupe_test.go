package strings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupe(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		fold     func(string) string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "trims and drops blanks", input: []string{"  a@pharmacy.test ", "", "   "}, expected: []string{"a@pharmacy.test"}},
		{name: "preserves first occurrence order", input: []string{"b", "a", "b", "c", "a"}, expected: []string{"b", "a", "c"}},
		{name: "case sensitive without fold", input: []string{"Auditor", "auditor"}, expected: []string{"Auditor", "auditor"}},
		{name: "fold lowercases before compare", input: []string{" Auditor", "auditor", "ADMIN"}, fold: strings.ToLower, expected: []string{"auditor", "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Dedupe(tt.input, tt.fold))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "żó", Truncate("żółw", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
