package logger

import (
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/jwebster45206/narrative-engine/internal/config"
)

// Setup configures the global slog logger based on environment
func Setup(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// WithSessionID adds session ID to logger context
func WithSessionID(logger *slog.Logger, id uuid.UUID) *slog.Logger {
	return logger.With("session_id", id.String())
}

// WithError adds error to logger context
func WithError(logger *slog.Logger, err error) *slog.Logger {
	return logger.With("error", err.Error())
}
