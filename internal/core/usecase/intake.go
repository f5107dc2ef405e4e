package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/core/ports"
)

type IntakeUseCase struct {
	repo    ports.EbookRepository
	storage ports.LibraryStorage
	events  ports.EventPublisher

	now   func() time.Time
	newID func() string
}

// NewIntakeUseCase wires upload handling. events may be nil when background
// extraction is disabled.
func NewIntakeUseCase(
	repo ports.EbookRepository,
	storage ports.LibraryStorage,
	events ports.EventPublisher,
) *IntakeUseCase {
	return &IntakeUseCase{
		repo:    repo,
		storage: storage,
		events:  events,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func (uc *IntakeUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.Ebook, error) {
	title := strings.TrimSpace(req.Title)
	author := strings.TrimSpace(req.Author)
	if title == "" || author == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload ebook", &domain.ClientError{Message: "missing title or author"})
	}
	if req.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload ebook", &domain.ClientError{Message: "missing file"})
	}

	ext := filepath.Ext(req.Filename)
	format, ok := domain.ParseFileFormat(ext)
	if !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "upload ebook", &domain.ClientError{Message: fmt.Sprintf("file extension %q is not supported", ext)})
	}

	now := uc.now()
	key := storageKey(title, author, format, now)
	path, err := uc.storage.Save(ctx, key, req.Body)
	if err != nil {
		return nil, fmt.Errorf("save to library storage: %w", err)
	}

	book := &domain.Ebook{
		ID:               uc.newID(),
		Title:            title,
		Author:           author,
		Genre:            valueOrUnknown(req.Genre),
		Language:         valueOrUnknown(req.Language),
		FilePath:         path,
		FileFormat:       format,
		ExtractionStatus: domain.ExtractionNone,
		AddedAt:          now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.repo.Create(ctx, book); err != nil {
		return nil, fmt.Errorf("create ebook metadata: %w", err)
	}

	if uc.events != nil && format == domain.FormatEPUB {
		if err := uc.events.PublishEbookUploaded(ctx, book.ID); err != nil {
			slog.Warn("publish_upload_event_failed", "ebook_id", book.ID, "error", err)
		}
	}

	return book, nil
}

// NormalizeName turns a human-entered name into a filesystem-safe token:
// whitespace runs become underscores, everything is lowercased and anything
// outside [a-z0-9_] is dropped.
func NormalizeName(name string) string {
	joined := strings.ToLower(strings.Join(strings.Fields(name), "_"))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '_':
			return r
		default:
			return -1
		}
	}, joined)
}

func storageKey(title, author string, format domain.FileFormat, at time.Time) string {
	titleToken := NormalizeName(title)
	if titleToken == "" {
		titleToken = "untitled"
	}
	authorToken := NormalizeName(author)
	if authorToken == "" {
		authorToken = "unknown_author"
	}
	return fmt.Sprintf("%s/%s_%s_%d.%s", authorToken, titleToken, authorToken, at.UnixMilli(), format)
}

func valueOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return domain.UnknownValue
	}
	return v
}
