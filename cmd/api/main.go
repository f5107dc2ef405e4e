package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/ebook-library/internal/adapters/http"
	"github.com/kirillkom/ebook-library/internal/bootstrap"
	"github.com/kirillkom/ebook-library/internal/config"
	"github.com/kirillkom/ebook-library/internal/observability/logging"
	"github.com/kirillkom/ebook-library/internal/observability/metrics"
)

const serviceName = "ebook-api"

func main() {
	if err := run(); err != nil {
		slog.Error("api_exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	extractionMetrics := metrics.NewExtractionMetrics(serviceName, httpMetrics.Registerer())

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Observer: extractionMetrics,
		Queue:    bootstrap.QueueIfEnabled,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	handler, err := httpadapter.NewRouter(cfg, app.IntakeUC, app.ExtractionUC, app.LibraryUC, httpMetrics).Handler()
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_error", "error", err)
	}
	slog.Info("api_stopped")
	return nil
}
