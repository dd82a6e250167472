package observability

import (
	"strings"
	"unicode"
)

const maxFieldRunes = 256

// clean strips control characters so attacker-supplied values cannot
// inject newlines into log output, then truncates to limit runes.
func clean(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldRunes
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute normalises a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

// SanitizeMethod normalises an HTTP method for logging.
func SanitizeMethod(method string) string {
	return clean(method, 10)
}

// SanitizeUserID caps user identifiers so logs never carry more of a
// principal than a Firebase UID needs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return clean(uid, 64)
}
