package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

// Storage keeps uploaded files below a single library root, one folder per author.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/library"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

func (s *Storage) Root() string {
	return s.basePath
}

// Save writes data under key (a slash separated path relative to the root) and
// returns the absolute path of the stored file.
func (s *Storage) Save(ctx context.Context, key string, data io.Reader) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", domain.WrapError(domain.ErrInvalidInput, "save file", fmt.Errorf("key %q escapes library root", key))
	}
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := s.WriteFile(ctx, path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Storage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "open file", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// WriteFile replaces the file at path atomically via a temp file in the same dir.
func (s *Storage) WriteFile(_ context.Context, path string, data io.Reader) error {
	if err := s.contains(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move file into place: %w", err)
	}
	return nil
}

// Remove deletes path; a file that is already gone is not an error.
func (s *Storage) Remove(_ context.Context, path string) error {
	if err := s.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *Storage) contains(path string) error {
	rel, err := filepath.Rel(s.basePath, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return domain.WrapError(domain.ErrInvalidInput, "resolve path", fmt.Errorf("%s is outside the library root", path))
	}
	return nil
}
