package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger writes to stdout, which is what the api and worker use.
func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New builds a JSON logger tagged with the service name. The MCP server passes
// stderr here since stdout carries the protocol.
func New(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

func ParseLevel(level string) slog.Level {
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
