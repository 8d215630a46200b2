// Package strings holds small text helpers shared across packages.
package strings

import (
	"strings"
)

// MinTruncateLen is the smallest usable maxLen for Truncate; anything
// shorter leaves no room for content plus the ellipsis.
const MinTruncateLen = 4

// Truncate collapses s to a single line and caps it at maxLen runes,
// appending "..." when cut. Operates on runes so multi-byte characters
// are never split.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
