package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps the logging.level setting to a slog level. Unknown values
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger builds a logger writing to w. format "json" selects the JSON
// handler, anything else the text handler. Source locations are added at debug
// level only. A non-empty service is attached to every record so the lines of
// several binaries (server, check-db) can share one log pipeline.
func NewLogger(w io.Writer, format, level, service string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// SetupLogger installs a stdout logger as the slog default, so packages log
// through slog.Info/Warn/Error without carrying a *slog.Logger around.
func SetupLogger(format, level, service string) *slog.Logger {
	logger := NewLogger(os.Stdout, format, level, service)
	slog.SetDefault(logger)
	logger.Debug("logger initialised", "format", format, "level", ParseLevel(level).String())
	return logger
}
