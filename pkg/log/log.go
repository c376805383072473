// Package log builds the zerolog logger commands log with, and its logr
// bridge.
package log

import (
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// Format selects how log lines are written.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"
}

// New returns a zerolog logger writing to w. verbosity is the highest logr
// V-level that is written: 0 logs info, 1 debug, 2 and above trace.
func New(w io.Writer, format Format, verbosity int) *zerolog.Logger {
	output := w
	if format != FormatJSON {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05.999Z07:00", NoColor: true}
	}

	level := zerolog.InfoLevel
	switch {
	case verbosity >= 2:
		level = zerolog.TraceLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &logger
}

// Logr wraps a zerolog logger for packages logging through logr.
func Logr(l *zerolog.Logger) logr.Logger {
	return zerologr.New(l)
}
