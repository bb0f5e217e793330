package voice

import (
	"strings"
	"unicode"
)

// errorMarkers are literal provider failure strings that must never be
// spoken to the user. Compared case-insensitively against the trimmed reply.
var errorMarkers = map[string]struct{}{
	"error":                 {},
	"[error]":               {},
	"none":                  {},
	"null":                  {},
	"undefined":             {},
	"internal server error": {},
	"service unavailable":   {},
}

// ValidResponse reports whether a reply is safe to speak: non-empty after
// trimming, at least 3 characters, at least one alphanumeric, and not a
// known error marker.
func ValidResponse(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 3 {
		return false
	}

	hasAlnum := false
	for _, r := range t {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
			break
		}
	}
	if !hasAlnum {
		return false
	}

	_, marked := errorMarkers[strings.ToLower(t)]
	return !marked
}
