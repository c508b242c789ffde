// Package config resolves process defaults from the environment.
package config

import (
	"log/slog"

	"github.com/xyproto/env/v2"

	"bintail/internal/diag"
	"bintail/internal/logger"
)

// Config holds the defaults that command-line flags may override.
type Config struct {
	LogLevel slog.Level
	LogJSON  bool
	Strict   bool
	// Output is the default output path; empty rewrites the input in place.
	Output string
}

// FromEnv reads BINTAIL_LOG_LEVEL, BINTAIL_LOG_JSON, BINTAIL_STRICT and
// BINTAIL_OUTPUT.
func FromEnv() Config {
	return Config{
		LogLevel: logger.ParseLevel(env.Str("BINTAIL_LOG_LEVEL", "INFO")),
		LogJSON:  env.Bool("BINTAIL_LOG_JSON"),
		Strict:   env.Bool("BINTAIL_STRICT"),
		Output:   env.Str("BINTAIL_OUTPUT"),
	}
}

// Mode returns the diagnostic mode implied by Strict.
func (c Config) Mode() diag.Mode {
	if c.Strict {
		return diag.ModeStrict
	}
	return diag.ModeBestEffort
}

// Apply configures the global logger.
func (c Config) Apply() {
	logger.SetLevel(c.LogLevel)
	logger.SetOutput(nil, c.LogJSON)
}
