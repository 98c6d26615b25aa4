// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// NewDefaultLogger returns a logger writing to stderr
func NewDefaultLogger(format, level string) (zerolog.Logger, error) {
	return NewLogger(os.Stderr, format, level)
}

// NewLogger returns a timestamped logger writing format to w, filtered at level
func NewLogger(w io.Writer, format, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("failed to parse log level (%s): %w", level, err)
	}
	if level == "" {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(format) {
	case LogFormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	case LogFormatJSON:
	default:
		return zerolog.Logger{}, fmt.Errorf("unsupported log format: %s", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
