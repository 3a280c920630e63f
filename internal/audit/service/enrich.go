package service

import (
	"maps"

	"github.com/mssola/useragent"
)

// enrichMetadata adds a parsed view of the user agent without overwriting
// caller-supplied keys.
func enrichMetadata(metadata map[string]any, userAgent string) map[string]any {
	if userAgent == "" {
		return metadata
	}
	if _, exists := metadata["user_agent_parsed"]; exists {
		return metadata
	}
	out := make(map[string]any, len(metadata)+1)
	maps.Copy(out, metadata)
	out["user_agent_parsed"] = parseUserAgent(userAgent)
	return out
}

func parseUserAgent(raw string) map[string]any {
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	parsed := map[string]any{
		"browser":         browser,
		"browser_version": version,
		"os":              ua.OS(),
		"platform":        ua.Platform(),
		"mobile":          ua.Mobile(),
		"bot":             ua.Bot(),
	}
	return parsed
}
