package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetOutputText(t *testing.T) {
	prev := Level()
	defer SetLevel(prev)

	var buf bytes.Buffer
	SetOutput(&buf, false)
	SetLevel(slog.LevelWarn)

	Logger.Info("hidden")
	Logger.Warn("shown", "var", "config")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "var=config")
}

func TestSetOutputJSON(t *testing.T) {
	prev := Level()
	defer SetLevel(prev)

	var buf bytes.Buffer
	SetOutput(&buf, true)
	SetLevel(slog.LevelDebug)
	Logger.Debug("patch", "site", 0x2040)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	assert.Equal(t, "patch", rec["msg"])
	assert.Equal(t, float64(0x2040), rec["site"])
}
