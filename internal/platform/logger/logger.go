// Package logger builds the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Level defaults to Info;
// set SITEGATE_LOG_LEVEL=debug for verbose worker logging.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("SITEGATE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", "sitegate")
}
