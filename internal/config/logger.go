package config

import (
	"io"
	"log/slog"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// NewLogger builds a logger writing to w at the configured level and format.
// Unknown values fall back to info and text.
func NewLogger(l LoggingConfig, w io.Writer) *slog.Logger {
	level, ok := logLevels[l.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if l.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
