// Package logger is the scanner's zerolog-backed structured logger. Every
// workstream logs with a stable event name via zerolog's fluent API so
// log lines stay greppable across deploys.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init builds the process-wide JSON logger at the level named by
// levelName (debug/info/warn/error), defaulting to info. The scanner
// passes the app.log_level setting (environment APP_LOG_LEVEL).
func Init(levelName string) {
	once.Do(func() {
		level := parseLevel(levelName)
		zerolog.SetGlobalLevel(level)
		defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
}

func parseLevel(name string) zerolog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the process-wide logger, initializing it with info level if
// Init was never called.
func Get() *zerolog.Logger {
	once.Do(func() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return &defaultLogger
}

// Event starts a structured log entry at info level tagged with a stable
// event name, e.g. logger.Event("crawl_platform_completed").Int("new_rows", n).Send()
func Event(name string) *zerolog.Event {
	return Get().Info().Str("event", name)
}

// ErrorEvent starts a structured error-level entry tagged with a stable
// event name and the triggering error, matching the "log and continue"
// propagation policy at tick and per-job boundaries.
func ErrorEvent(name string, err error) *zerolog.Event {
	return Get().Error().Str("event", name).Err(err)
}
