// Package logging provides the structured logger used across GitBridge.
// It wraps zerolog behind a small formatted-logging interface so that
// components only depend on the Logger type, not on zerolog itself.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level controls the verbosity of a Logger.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel converts a level name into a Level. Unknown names default
// to info so that a misconfigured level never silences errors.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Config holds logger construction options.
type Config struct {
	Level  Level
	Format string // "json" (default) or "console"
	Output io.Writer
}

// Logger is the logging handle passed to GitBridge components.
type Logger struct {
	z zerolog.Logger
}

func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	if c.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	var lvl zerolog.Level
	switch c.Level {
	case LevelError:
		lvl = zerolog.ErrorLevel
	case LevelWarn:
		lvl = zerolog.WarnLevel
	case LevelDebug:
		lvl = zerolog.DebugLevel
	default:
		lvl = zerolog.InfoLevel
	}

	return &Logger{z: zerolog.New(out).Level(lvl).With().Timestamp().Logger()}
}

// Discard returns a logger that drops everything. Useful for tests.
func Discard() *Logger {
	return &Logger{z: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}

// WithField returns a derived logger with an extra field attached to
// every message.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.z.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.z.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.z.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.z.Error().Msgf(format, args...)
}
