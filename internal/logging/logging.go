// Package logging wires up the zerolog logger used throughout
// presencewatch, following the console/JSON switch used by the wider
// websocket-server tooling this project shares an ecosystem with.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for the given level/format pair. "console"
// produces colorized, human-readable lines (via go-colorable so this
// also behaves on Windows terminals); anything else produces structured
// JSON suitable for log aggregation.
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        colorable.NewColorableStdout(),
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).With().Timestamp().Str("service", "presencewatch").Logger()
}
