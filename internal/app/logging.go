package app

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// SetupLogging installs the default slog logger: JSON on stdout, or
// colorized text on stderr when format is "text".
func SetupLogging(level, format string) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, os.Stderr, level, format)))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(stdout, stderr io.Writer, level, format string) slog.Handler {
	lvl := parseLevel(level)
	if format == "text" {
		return tint.NewHandler(stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	}
	return slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: lvl})
}
