package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{name: "debug", input: "debug", expected: LevelDebug},
		{name: "info", input: "info", expected: LevelInfo},
		{name: "warn", input: "warn", expected: LevelWarn},
		{name: "error", input: "error", expected: LevelError},
		{name: "unknown defaults to info", input: "verbose", expected: LevelInfo},
		{name: "empty defaults to info", input: "", expected: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("Test", "debug message")
	Info("Test", "info message")
	Warn("Test", "warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestSubsystemAndErrorAttrs(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Error("Cache", assert.AnError, "remote write failed")

	out := buf.String()
	assert.Contains(t, out, "subsystem=Cache")
	assert.Contains(t, out, "remote write failed")
	assert.True(t, strings.Contains(out, "error="))
}
