package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/ebook-library/internal/config"
	"github.com/kirillkom/ebook-library/internal/core/ports"
	"github.com/kirillkom/ebook-library/internal/core/usecase"
	"github.com/kirillkom/ebook-library/internal/infrastructure/extractor/epub"
	"github.com/kirillkom/ebook-library/internal/infrastructure/queue/nats"
	"github.com/kirillkom/ebook-library/internal/infrastructure/repository/mongodb"
	"github.com/kirillkom/ebook-library/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ebook-library/internal/infrastructure/resilience"
	"github.com/kirillkom/ebook-library/internal/infrastructure/storage/localfs"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	dialAttemptTimeout = 5 * time.Second
	disconnectTimeout  = 5 * time.Second
)

type QueueMode int

const (
	// QueueIfEnabled connects only when uploads announce themselves.
	QueueIfEnabled QueueMode = iota
	// QueueRequired always connects; the worker cannot run without it.
	QueueRequired
	QueueDisabled
)

type Options struct {
	// Observer receives extraction outcomes; nil disables reporting.
	Observer usecase.ExtractionObserver
	Queue    QueueMode
}

type App struct {
	Config config.Config

	Repo    ports.EbookRepository
	Storage *localfs.Storage
	// Queue is nil when no NATS connection was requested.
	Queue *nats.Queue

	IntakeUC     ports.EbookIntake
	ExtractionUC *usecase.ExtractionUseCase
	LibraryUC    ports.LibraryService

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	startup := resilience.NewRunner(resilience.StartupPolicy())

	repo, err := app.openRepository(ctx, cfg, startup)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Repo = repo

	storage, err := localfs.New(cfg.LibraryPath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init library storage: %w", err)
	}
	app.Storage = storage

	var events ports.EventPublisher
	if wantQueue(cfg, opts.Queue) {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			Runner: resilience.NewRunner(resilience.DefaultPolicy()),
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, queue.Close)
		if cfg.ExtractOnUpload {
			events = queue
		}
	}

	extractor := epub.NewExtractor(nil, epub.Options{
		Concurrency: cfg.ExtractConcurrency,
		Timeout:     time.Duration(cfg.ExtractTimeoutSeconds) * time.Second,
	})

	app.IntakeUC = usecase.NewIntakeUseCase(repo, storage, events)
	app.ExtractionUC = usecase.NewExtractionUseCase(repo, storage, extractor, opts.Observer)
	app.LibraryUC = usecase.NewLibraryUseCase(repo, storage)

	slog.Info("bootstrap_complete",
		"metadata_backend", cfg.MetadataBackend,
		"library_path", storage.Root(),
		"queue", app.Queue != nil,
		"extract_on_upload", events != nil,
	)
	return app, nil
}

func wantQueue(cfg config.Config, mode QueueMode) bool {
	switch mode {
	case QueueRequired:
		return true
	case QueueDisabled:
		return false
	default:
		return cfg.ExtractOnUpload && cfg.NATSURL != ""
	}
}

func (a *App) openRepository(ctx context.Context, cfg config.Config, startup *resilience.Runner) (ports.EbookRepository, error) {
	switch cfg.MetadataBackend {
	case config.BackendPostgres:
		var db *sql.DB
		err := startup.Run(ctx, "postgres.open", func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, dialAttemptTimeout)
			defer cancel()
			var err error
			db, err = postgres.OpenDB(attemptCtx, cfg.PostgresDSN)
			return err
		}, untilCancelled(ctx))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		repo := postgres.NewEbookRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil

	case config.BackendMongo:
		var client *mongo.Client
		err := startup.Run(ctx, "mongo.connect", func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, dialAttemptTimeout)
			defer cancel()
			var err error
			client, err = mongodb.Connect(attemptCtx, cfg.MongoURI)
			return err
		}, untilCancelled(ctx))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		})

		repo := mongodb.NewEbookRepository(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.MetadataBackend)
	}
}

// untilCancelled retries every dial failure while the parent context lives.
// Per-attempt deadlines are expected and do not stop the loop.
func untilCancelled(parent context.Context) resilience.Classifier {
	return func(error) resilience.Verdict {
		if parent.Err() != nil {
			return resilience.Verdict{}
		}
		return resilience.Verdict{Retry: true}
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
