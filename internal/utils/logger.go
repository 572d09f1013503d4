package utils

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the agent logger from the logging section of the config.
// An unknown level falls back to info.
func NewLogger(config *Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if config.Logging.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}
