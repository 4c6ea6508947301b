package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "secret is redacted", input: "my-secret-password"},
		{name: "empty secret is still redacted", input: ""},
		{name: "complex secret is redacted", input: "password123!@#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "[REDACTED]", Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", Secret(tt.input).GoString())
			assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", Secret(tt.input)))
		})
	}
}

func TestLoggerWritesLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true)

	logger.Info("loaded %s", "app-secrets")
	logger.Warn("overwriting key %q", "FAKE")
	logger.Error("commit failed: %v", "boom")
	logger.Debug("fetching %s", Secret("s3cr3t-value"))

	out := buf.String()
	assert.Contains(t, out, "✓ loaded app-secrets")
	assert.Contains(t, out, `⚠ overwriting key "FAKE"`)
	assert.Contains(t, out, "✗ commit failed: boom")
	assert.Contains(t, out, "[DEBUG] fetching [REDACTED]")
	assert.NotContains(t, out, "s3cr3t-value")
	assert.NotContains(t, out, "\033[")
}

func TestDebugModeDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, logger.IsDebug())
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info("nothing")
	logger.Error("nothing")
	assert.False(t, logger.IsDebug())
}

func TestColoredOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf}

	logger.Warn("careful")
	assert.Contains(t, buf.String(), "\033[33m")
}

func TestRedactFunction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "multiple secrets redacted",
			input:    "User admin with password secret123 and API key abc123",
			secrets:  []string{"admin", "secret123", "abc123"},
			expected: "User [REDACTED] with password [REDACTED] and API key [REDACTED]",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
