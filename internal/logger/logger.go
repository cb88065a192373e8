package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var globalLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Init installs the process-wide logger. level is one of debug, info, warn,
// error; format is text or json.
func Init(level, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	globalLogger = slog.New(h)
	slog.SetDefault(globalLogger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return globalLogger.With(args...)
}

func Debug(msg string, args ...any) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	globalLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	globalLogger.Error(msg, args...)
}
