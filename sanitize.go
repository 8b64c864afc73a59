package beacon

import (
	"regexp"
	"unicode/utf8"
)

const (
	maxErrorMessageLength = 500
	redactionMarker       = "[REDACTED]"
	truncationMarker      = "..."
)

// redactionPatterns run in order over every captured error message.
// Each match is replaced with the redaction marker.
var redactionPatterns = []*regexp.Regexp{
	// Email addresses.
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	// Bearer and API tokens.
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret)["'\s:=]+[A-Za-z0-9\-._~+/]{8,}`),
	// Credit-card-like digit runs (13-19 digits, optional separators).
	regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
	// URLs carrying credentials.
	regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^/\s:@]+:[^/\s:@]+@\S+`),
}

// sanitizeMessage truncates and redacts an error message. The marker
// can outsize what it replaces, so the cap is re-applied after
// redaction; the result never exceeds maxErrorMessageLength bytes.
func sanitizeMessage(message string) string {
	message = truncateMessage(message)
	for _, pattern := range redactionPatterns {
		message = pattern.ReplaceAllString(message, redactionMarker)
	}
	return truncateMessage(message)
}

// truncateMessage caps message at maxErrorMessageLength bytes, cutting
// on a rune boundary so the output stays valid UTF-8.
func truncateMessage(message string) string {
	if len(message) <= maxErrorMessageLength {
		return message
	}
	cut := maxErrorMessageLength - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut] + truncationMarker
}
