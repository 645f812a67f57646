// Package logging provides the structured logging setup shared by
// iodine's binaries.
package logging

import (
	"log/slog"
	"os"
)

const defaultLevel = slog.LevelInfo

// Init configures the default slog logger, honoring LOG_LEVEL
// ("debug", "info", "warn", "error") when set.
func Init() {
	level := defaultLevel
	if text, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if err := level.UnmarshalText([]byte(text)); err != nil {
			level = slog.LevelDebug
		}
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
