package observability

import (
	"strings"
	"unicode"
)

// Log field values sourced from the request are stripped of control
// characters and truncated so a hostile client cannot inject log lines or
// bloat entries.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}

func cleanRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

func cleanMethod(method string) string {
	return clean(method, 10)
}

func cleanUserID(uid string) string {
	return clean(uid, 64)
}
