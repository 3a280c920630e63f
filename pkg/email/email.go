// Package email normalizes report distribution addresses.
package email

import (
	"net/mail"
	"strings"
	"unicode"
)

// Normalize parses addr and returns the bare lowercase address. Display
// names are dropped.
func Normalize(addr string) (string, bool) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(addr))
	if err != nil {
		return "", false
	}
	local, domain, ok := strings.Cut(parsed.Address, "@")
	if !ok || local == "" || !strings.Contains(domain, ".") {
		return "", false
	}
	return strings.ToLower(parsed.Address), true
}

// DisplayName derives a readable name from the local part of an address,
// e.g. "jane.doe@pharmacy.example" becomes "Jane Doe".
func DisplayName(addr string) string {
	localPart := addr
	if at := strings.IndexByte(addr, '@'); at > 0 {
		localPart = addr[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return addr
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
