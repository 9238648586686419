package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestNewHandler_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{}))
	logger.Info("dispatch succeeded", "provider", "openai")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatch succeeded", line["msg"])
	assert.Equal(t, "openai", line["provider"])
}

func TestNewHandler_ForcedText(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Format: "text"}))
	logger.Warn("provider call failed", "provider", "groq")

	out := buf.String()
	assert.Contains(t, out, "provider call failed")
	assert.Contains(t, out, "provider=groq")
	assert.NotContains(t, out, "\033[", "no color codes when not writing to a terminal")
}

func TestNewHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Format: "json", Level: "warn"}))
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Error("shown")
	assert.NotZero(t, buf.Len())
}
