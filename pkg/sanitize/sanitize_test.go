package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "Alice", "Alice"},
		{"surrounding whitespace", "  Alice  ", "Alice"},
		{"collapsed inner whitespace", "Alice \t  Smith", "Alice Smith"},
		{"control characters stripped", "Ali\x00ce\x07", "Alice"},
		{"newlines removed", "Alice\nSmith", "AliceSmith"},
		{"empty input", "", ""},
		{"only whitespace", "   \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeDisplayName(tt.input))
		})
	}
}

func TestSanitizeDisplayNameEnforcesLength(t *testing.T) {
	long := strings.Repeat("a", MaxDisplayNameLength*2)
	got := SanitizeDisplayName(long)
	assert.Len(t, got, MaxDisplayNameLength)
}
