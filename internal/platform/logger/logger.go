package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/scry-cat/internal/config"
)

// Setup initializes the application's JSON logger on stdout with the level
// from cfg and installs it as the slog default.
func Setup(cfg config.ServerConfig) (*slog.Logger, error) {
	return SetupWithWriter(cfg, os.Stdout)
}

// SetupWithWriter is Setup with a custom destination.
func SetupWithWriter(cfg config.ServerConfig, w io.Writer) (*slog.Logger, error) {
	level, ok := ParseLevel(cfg.LogLevel)

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if !ok {
		logger.Warn("invalid log level configured, using default level",
			slog.String("configured_level", cfg.LogLevel),
			slog.String("default_level", "info"))
	}
	return logger, nil
}

// ParseLevel maps a case-insensitive level name to a slog.Level. Unknown
// names yield info and false.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
