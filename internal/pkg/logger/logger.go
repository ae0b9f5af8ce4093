// Package logger builds the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/pii"
)

const serviceName = "mp-notifier"

// New creates a *slog.Logger writing to stdout. Attributes listed in redactFields are masked.
func New(level, format string, redactFields []string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format, redactFields)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string, redactFields []string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: pii.NewRedactor(redactFields).ReplaceAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", serviceName)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
