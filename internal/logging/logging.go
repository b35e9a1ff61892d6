package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// New builds the process logger. Format "json" writes one JSON object per
// line to stderr; anything else uses the human-readable console writer.
func New(level, format string) *log.Logger {
	var w log.Writer
	if strings.EqualFold(format, "json") {
		w = &log.IOWriter{Writer: os.Stderr}
	} else {
		w = &log.ConsoleWriter{Writer: os.Stderr, ColorOutput: isTerminal()}
	}
	return &log.Logger{
		Level:      levelFromString(level),
		TimeFormat: "15:04:05",
		Writer:     w,
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return &log.Logger{
		Level:  log.PanicLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}

func levelFromString(value string) log.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return log.ErrorLevel
	case "warn", "warning":
		return log.WarnLevel
	case "debug":
		return log.DebugLevel
	case "trace":
		return log.TraceLevel
	default:
		return log.InfoLevel
	}
}

func isTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
