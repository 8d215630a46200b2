package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short string untouched", "disk cleanup", 60, "disk cleanup"},
		{"newlines collapse to spaces", "line one\nline two\t end", 60, "line one line two end"},
		{"long string gets ellipsis", "abcdefghij", 8, "abcde..."},
		{"exact length untouched", "abcdefgh", 8, "abcdefgh"},
		{"tiny maxLen is clamped", "abcdefghij", 1, "a..."},
		{"multibyte runes survive", "日本語のテキストです", 6, "日本語..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.maxLen))
		})
	}
}
