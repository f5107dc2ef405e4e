package ports

import (
	"context"
	"io"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

type UploadRequest struct {
	Title    string
	Author   string
	Genre    string
	Language string
	Filename string
	Body     io.Reader
}

// EbookIntake is the inbound contract for upload handling.
type EbookIntake interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.Ebook, error)
}

// TextExtractionService is the inbound contract for extraction and cached text.
type TextExtractionService interface {
	Extract(ctx context.Context, id string, force bool) (*domain.ExtractionResult, error)
	CachedText(ctx context.Context, id string) (*domain.ExtractionResult, error)
}

// EbookProcessor is the inbound contract for background extraction.
type EbookProcessor interface {
	ProcessByID(ctx context.Context, id string) error
}

// LibraryService is the inbound read/delete model for stored ebooks.
type LibraryService interface {
	List(ctx context.Context, limit int) ([]domain.Ebook, error)
	Get(ctx context.Context, id string) (*domain.Ebook, error)
	Delete(ctx context.Context, id string) error
	OpenFile(ctx context.Context, id string) (*domain.Ebook, io.ReadCloser, error)
}
