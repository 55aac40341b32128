package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logLevel backs the default logger so the level can change at runtime
// (for example after a config file reload) without rebuilding the handler.
var logLevel = new(slog.LevelVar)

// SetupLogger installs the default slog logger.
//
// format: "json" selects the JSON handler; anything else selects the text handler.
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
// service: attached to every record as the "service" attribute when non-empty.
func SetupLogger(format, level, service string) {
	setupLogger(os.Stdout, format, level, service)
}

func setupLogger(w io.Writer, format, level, service string) {
	logLevel.Set(ParseLevel(level))

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel.Level() == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", service)})
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", logLevel.Level().String())
}

// SetLogLevel changes the level of the logger installed by SetupLogger.
func SetLogLevel(level string) {
	lvl := ParseLevel(level)
	if lvl == logLevel.Level() {
		return
	}
	logLevel.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
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
