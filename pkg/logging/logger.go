// Package logging configures zerolog for the resilience layer and hands out
// component-scoped loggers.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Component names used as the "component" field.
const (
	ComponentRetry   = "retry"
	ComponentClient  = "http-client"
	ComponentOffline = "offline-controller"
	ComponentStorage = "cache-storage"
	ComponentProxy   = "offline-proxy"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level. Unknown values map to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger derived from the global one with the given
// component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: cache hit/miss per key, lazy evictions, retry scheduling,
// fetch routing decisions (cache, network, pass-through).
//
// Info: controller lifecycle transitions (installed, activated, redundant),
// partitions deleted on activation, proxy startup/shutdown, successful retry.
//
// Warn: retry exhaustion, storage failures degraded to a miss, offline
// fallback served, install failures that keep the previous version.
//
// Error: configuration errors, storage backends that cannot be opened.
//
// Context Fields:
//   - key: cache key
//   - url: request URL
//   - version: controller version
//   - state: controller state
//   - partition: cache partition name
//   - attempt: retry attempt (0-based)
//   - delay: scheduled backoff
//   - error_class: network, timeout, rate_limit, server, client
//   - status_code: HTTP status code
//   - outcome: fetch outcome
