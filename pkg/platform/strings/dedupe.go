// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// Dedupe trims each element, drops empties and duplicates, and preserves the
// order of first occurrence. fold, when non-nil, is applied before comparison
// and is reflected in the output (e.g. strings.ToLower for roles).
//
//	Dedupe([]string{" Auditor", "auditor", ""}, strings.ToLower)
//	// []string{"auditor"}
func Dedupe(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold != nil {
			v = fold(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
