package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/core/ports"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

type LibraryUseCase struct {
	repo    ports.EbookRepository
	storage ports.LibraryStorage
}

func NewLibraryUseCase(repo ports.EbookRepository, storage ports.LibraryStorage) *LibraryUseCase {
	return &LibraryUseCase{repo: repo, storage: storage}
}

func (uc *LibraryUseCase) List(ctx context.Context, limit int) ([]domain.Ebook, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	books, err := uc.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list ebooks: %w", err)
	}
	return books, nil
}

func (uc *LibraryUseCase) Get(ctx context.Context, id string) (*domain.Ebook, error) {
	book, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch ebook by id: %w", err)
	}
	return book, nil
}

// Delete removes the stored file, any cached text and finally the record.
func (uc *LibraryUseCase) Delete(ctx context.Context, id string) error {
	book, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := uc.storage.Remove(ctx, book.FilePath); err != nil {
		return fmt.Errorf("remove ebook file: %w", err)
	}
	if book.ExtractedTextPath != "" {
		if err := uc.storage.Remove(ctx, book.ExtractedTextPath); err != nil {
			return fmt.Errorf("remove extracted text: %w", err)
		}
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete ebook metadata: %w", err)
	}
	return nil
}

func (uc *LibraryUseCase) OpenFile(ctx context.Context, id string) (*domain.Ebook, io.ReadCloser, error) {
	book, err := uc.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := uc.storage.Open(ctx, book.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open ebook file: %w", err)
	}
	return book, rc, nil
}
