package logging

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL style names to a level, using fallback for
// anything it does not recognise.
func ParseLevel(name string, fallback slog.Level) slog.Level {
	switch strings.ToLower(name) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return fallback
}

// New returns a text logger on stderr.
func New(name string, fallback slog.Level) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: ParseLevel(name, fallback),
		}),
	)
}

// Init installs a logger built from name as the slog default.
func Init(name string, fallback slog.Level) *slog.Logger {
	logger := New(name, fallback)
	slog.SetDefault(logger)
	return logger
}
