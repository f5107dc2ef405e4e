package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/ebook-library/internal/adapters/mcp"
	"github.com/kirillkom/ebook-library/internal/bootstrap"
	"github.com/kirillkom/ebook-library/internal/config"
	"github.com/kirillkom/ebook-library/internal/observability/logging"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serviceName = "ebook-mcp"
	version     = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mcp_exit", "error", err)
		os.Exit(1)
	}
}

// run serves MCP over stdio, so every log line goes to stderr.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.New(os.Stderr, serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Queue: bootstrap.QueueDisabled})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	s := mcpadapter.NewServer(version, mcpadapter.NewTools(app.LibraryUC, app.ExtractionUC))
	slog.Info("mcp_serving_stdio")
	return server.ServeStdio(s)
}
