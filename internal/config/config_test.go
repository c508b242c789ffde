package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"bintail/internal/diag"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("BINTAIL_LOG_LEVEL", "")
	t.Setenv("BINTAIL_LOG_JSON", "")
	t.Setenv("BINTAIL_STRICT", "")
	t.Setenv("BINTAIL_OUTPUT", "")

	c := FromEnv()
	assert.Equal(t, slog.LevelInfo, c.LogLevel)
	assert.False(t, c.LogJSON)
	assert.False(t, c.Strict)
	assert.Empty(t, c.Output)
	assert.Equal(t, diag.ModeBestEffort, c.Mode())
}

func TestMode(t *testing.T) {
	assert.Equal(t, diag.ModeStrict, Config{Strict: true}.Mode())
	assert.Equal(t, diag.ModeBestEffort, Config{}.Mode())
}
