package ports

import (
	"context"
	"io"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

// EbookRepository persists and reads ebook metadata records.
type EbookRepository interface {
	Create(ctx context.Context, book *domain.Ebook) error
	GetByID(ctx context.Context, id string) (*domain.Ebook, error)
	List(ctx context.Context, limit int) ([]domain.Ebook, error)
	Delete(ctx context.Context, id string) error
	UpdateExtraction(ctx context.Context, id string, update domain.ExtractionUpdate) error
}

// LibraryStorage stores source files and cached text under the library root.
type LibraryStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, path string, data io.Reader) error
	Remove(ctx context.Context, path string) error
}

// TextExtractor turns a container on disk into one plain-text document.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// EventPublisher announces stored uploads to background workers.
type EventPublisher interface {
	PublishEbookUploaded(ctx context.Context, ebookID string) error
}

// EventSubscriber consumes upload announcements.
type EventSubscriber interface {
	SubscribeEbookUploaded(ctx context.Context, handler func(context.Context, domain.UploadEvent) error) error
}
