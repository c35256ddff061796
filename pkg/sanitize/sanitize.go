package sanitize

import (
	"strings"
	"unicode"
)

// MaxDisplayNameLength bounds caller names carried in signaling messages
const MaxDisplayNameLength = 64

// SanitizeDisplayName cleans a user-provided display name before it is
// relayed to other clients
func SanitizeDisplayName(input string) string {
	input = StripControlCharacters(input)

	// Collapse runs of whitespace
	input = strings.Join(strings.Fields(input), " ")

	// Enforce the length bound on runes, not bytes
	runes := []rune(input)
	if len(runes) > MaxDisplayNameLength {
		input = string(runes[:MaxDisplayNameLength])
	}

	return strings.TrimSpace(input)
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
