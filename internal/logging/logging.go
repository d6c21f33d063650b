// Package logging wires zerolog for the application and bridges pion's
// internal logging into it.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Format selects the log output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// New builds the root logger. level accepts the usual zerolog names
// ("debug", "info", "warn", "error"); format is console or json.
func New(level string, format Format) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var logger zerolog.Logger
	switch format {
	case FormatConsole:
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	case FormatJSON:
		logger = zerolog.New(os.Stderr)
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", format)
	}

	return logger.Level(lvl).With().Timestamp().Logger(), nil
}
