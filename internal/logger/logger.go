// Package logger wraps zerolog behind the Infof/Warnf/Errorf call surface
// used throughout this codebase's reference lineage.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a named, structured logger. The zero value is not usable; obtain
// one via New.
type Logger struct {
	z zerolog.Logger
}

var defaultLevel = zerolog.InfoLevel

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && os.Getenv("LOG_LEVEL") != "" {
		defaultLevel = lvl
	}
}

func writer() io.Writer {
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return os.Stderr
}

// New returns a Logger tagged with the given component name.
func New(component string) *Logger {
	z := zerolog.New(writer()).Level(defaultLevel).With().Timestamp().Str("component", component).Logger()
	return &Logger{z: z}
}

// With returns a child logger carrying an additional string field, useful
// for attaching a per-tick correlation id.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{z: l.z.With().Str(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) { l.z.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.z.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.z.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }

// ErrorErr logs a message with an attached error value.
func (l *Logger) ErrorErr(err error, format string, args ...any) {
	l.z.Error().Err(err).Msgf(format, args...)
}
