package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/core/ports"
)

const (
	SourceCache = "cache"
	SourceParse = "parse"

	statusWriteTimeout = 5 * time.Second
)

// ExtractionObserver receives one call per finished extraction request.
type ExtractionObserver interface {
	RecordExtraction(source string, textBytes int, duration time.Duration, err error)
}

type ExtractionUseCase struct {
	repo      ports.EbookRepository
	storage   ports.LibraryStorage
	extractor ports.TextExtractor
	observer  ExtractionObserver

	now func() time.Time
}

func NewExtractionUseCase(
	repo ports.EbookRepository,
	storage ports.LibraryStorage,
	extractor ports.TextExtractor,
	observer ExtractionObserver,
) *ExtractionUseCase {
	return &ExtractionUseCase{
		repo:      repo,
		storage:   storage,
		extractor: extractor,
		observer:  observer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Extract returns the plain text of an EPUB record, serving the cached copy unless
// force is set. A fresh extraction is written next to the source file.
func (uc *ExtractionUseCase) Extract(ctx context.Context, id string, force bool) (*domain.ExtractionResult, error) {
	start := time.Now()

	book, err := uc.loadEPUB(ctx, id)
	if err != nil {
		return nil, err
	}

	if !force {
		if text, ok := uc.readCached(ctx, book); ok {
			uc.record(SourceCache, len(text), start, nil)
			return newResult(book, text, book.ExtractedTextPath, true), nil
		}
	}

	text, textPath, err := uc.extractAndCache(ctx, book)
	uc.record(SourceParse, len(text), start, err)
	if err != nil {
		return nil, err
	}
	return newResult(book, text, textPath, false), nil
}

func (uc *ExtractionUseCase) CachedText(ctx context.Context, id string) (*domain.ExtractionResult, error) {
	book, err := uc.loadBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if book.ExtractedTextPath == "" {
		return nil, domain.WrapError(domain.ErrNotFound, "read cached text", &domain.ClientError{Message: "text has not been extracted yet"})
	}

	text, err := uc.readFile(ctx, book.ExtractedTextPath)
	if err != nil {
		return nil, fmt.Errorf("read cached text: %w", err)
	}
	return newResult(book, text, book.ExtractedTextPath, true), nil
}

// ProcessByID is the background entry point. Records that cannot be extracted
// are skipped rather than reported as failures.
func (uc *ExtractionUseCase) ProcessByID(ctx context.Context, id string) error {
	book, err := uc.loadBook(ctx, id)
	if err != nil {
		return err
	}
	if book.FileFormat != domain.FormatEPUB {
		slog.Info("extraction_skipped", "ebook_id", id, "format", string(book.FileFormat))
		return nil
	}
	_, err = uc.Extract(ctx, id, false)
	return err
}

func (uc *ExtractionUseCase) extractAndCache(ctx context.Context, book *domain.Ebook) (string, string, error) {
	if err := uc.repo.UpdateExtraction(ctx, book.ID, domain.ExtractionUpdate{
		Status: domain.ExtractionProcessing,
		At:     uc.now(),
	}); err != nil {
		return "", "", fmt.Errorf("set extraction status=processing: %w", err)
	}

	sourcePath, err := filepath.Abs(strings.TrimSpace(book.FilePath))
	if err != nil {
		err = domain.WrapError(domain.ErrNotFound, "resolve file path", err)
		return "", "", uc.markFailed(ctx, book.ID, err)
	}

	text, err := uc.extractor.Extract(ctx, sourcePath)
	if err != nil {
		return "", "", uc.markFailed(ctx, book.ID, fmt.Errorf("extract text: %w", err))
	}

	textPath := extractedTextPath(sourcePath)
	if err := uc.storage.WriteFile(ctx, textPath, strings.NewReader(text)); err != nil {
		slog.Warn("extracted_text_cache_failed", "ebook_id", book.ID, "path", textPath, "error", err)
		textPath = ""
	}

	if err := uc.updateDetached(ctx, book.ID, domain.ExtractionUpdate{
		Status:   domain.ExtractionReady,
		TextPath: textPath,
		At:       uc.now(),
	}); err != nil {
		return "", "", fmt.Errorf("set extraction status=ready: %w", err)
	}
	return text, textPath, nil
}

func (uc *ExtractionUseCase) loadBook(ctx context.Context, id string) (*domain.Ebook, error) {
	book, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch ebook by id: %w", err)
	}
	return book, nil
}

func (uc *ExtractionUseCase) loadEPUB(ctx context.Context, id string) (*domain.Ebook, error) {
	book, err := uc.loadBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if book.FileFormat != domain.FormatEPUB {
		return nil, domain.WrapError(
			domain.ErrUnsupportedFormat,
			"extract text",
			&domain.ClientError{Message: fmt.Sprintf("format %q: only EPUB files can be processed", book.FileFormat)},
		)
	}
	return book, nil
}

func (uc *ExtractionUseCase) readCached(ctx context.Context, book *domain.Ebook) (string, bool) {
	if book.ExtractedTextPath == "" {
		return "", false
	}
	text, err := uc.readFile(ctx, book.ExtractedTextPath)
	if err != nil {
		slog.Debug("extracted_text_cache_miss", "ebook_id", book.ID, "error", err)
		return "", false
	}
	return text, true
}

func (uc *ExtractionUseCase) readFile(ctx context.Context, path string) (string, error) {
	rc, err := uc.storage.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}

func (uc *ExtractionUseCase) markFailed(ctx context.Context, id string, cause error) error {
	if failErr := uc.updateDetached(ctx, id, domain.ExtractionUpdate{
		Status: domain.ExtractionFailed,
		Error:  cause.Error(),
		At:     uc.now(),
	}); failErr != nil {
		return fmt.Errorf("%w; mark failed status: %v", cause, failErr)
	}
	return cause
}

// updateDetached writes status even when the request context is already done.
func (uc *ExtractionUseCase) updateDetached(ctx context.Context, id string, update domain.ExtractionUpdate) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	return uc.repo.UpdateExtraction(writeCtx, id, update)
}

func (uc *ExtractionUseCase) record(source string, textBytes int, start time.Time, err error) {
	if uc.observer == nil {
		return
	}
	uc.observer.RecordExtraction(source, textBytes, time.Since(start), err)
}

func extractedTextPath(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ".extracted.txt"
}

func newResult(book *domain.Ebook, text, textPath string, cached bool) *domain.ExtractionResult {
	return &domain.ExtractionResult{
		ID:                book.ID,
		Title:             book.Title,
		Author:            book.Author,
		ExtractedText:     text,
		ExtractedTextPath: textPath,
		Cached:            cached,
	}
}
