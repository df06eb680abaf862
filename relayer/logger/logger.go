// Package logger builds the zerolog loggers used across the relayer.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger with the configured level and format.
// Format "json" writes machine-readable output; anything else gets a
// console writer. Sampling keeps hot poll loops from flooding stdout.
func New(logLevel int, logFormat string, logSampler bool) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if logFormat != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log := zerolog.New(writer).
		Level(zerolog.Level(logLevel)).
		With().
		Timestamp().
		Logger()

	if logSampler {
		log = log.Sample(&zerolog.BasicSampler{N: 5})
	}
	return log
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
