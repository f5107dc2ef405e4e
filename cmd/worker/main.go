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

	"github.com/kirillkom/ebook-library/internal/bootstrap"
	"github.com/kirillkom/ebook-library/internal/config"
	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/core/ports"
	"github.com/kirillkom/ebook-library/internal/observability/logging"
	"github.com/kirillkom/ebook-library/internal/observability/metrics"
)

const serviceName = "ebook-worker"

func main() {
	if err := run(); err != nil {
		slog.Error("worker_exit", "error", err)
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

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	extractionMetrics := metrics.NewExtractionMetrics(serviceName, workerMetrics.Registerer())

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Observer: extractionMetrics,
		Queue:    bootstrap.QueueRequired,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, workerMetrics.Handler())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	timeout := time.Duration(cfg.ExtractTimeoutSeconds) * time.Second
	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "extract_timeout", timeout.String())

	err = app.Queue.SubscribeEbookUploaded(ctx, func(handlerCtx context.Context, event domain.UploadEvent) error {
		return processUpload(handlerCtx, app.ExtractionUC, workerMetrics, timeout, event)
	})
	if err != nil {
		return fmt.Errorf("worker subscribe: %w", err)
	}
	slog.Info("worker_stopped")
	return nil
}

func processUpload(ctx context.Context, processor ports.EbookProcessor, m *metrics.WorkerMetrics, timeout time.Duration, event domain.UploadEvent) error {
	if !event.UploadedAt.IsZero() {
		m.ObserveEventLag(time.Since(event.UploadedAt))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	m.StartEbook()
	err := processor.ProcessByID(ctx, event.EbookID)
	m.FinishEbook(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("process ebook %s: %w", event.EbookID, err)
	}
	slog.Info("ebook_processed", "ebook_id", event.EbookID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func startMetricsServer(port string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_error", "error", err)
		}
	}()
	return server
}
