package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

type repoFake struct {
	mu        sync.Mutex
	books     map[string]domain.Ebook
	updates   []domain.ExtractionUpdate
	createErr error
	updateErr error
}

func newRepoFake(books ...domain.Ebook) *repoFake {
	f := &repoFake{books: make(map[string]domain.Ebook)}
	for _, b := range books {
		f.books[b.ID] = b
	}
	return f
}

func (f *repoFake) Create(_ context.Context, book *domain.Ebook) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[book.ID] = *book
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Ebook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get ebook", errors.New("id="+id))
	}
	return &book, nil
}

func (f *repoFake) List(_ context.Context, limit int) ([]domain.Ebook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Ebook, 0, len(f.books))
	for _, b := range f.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *repoFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete ebook", errors.New("id="+id))
	}
	delete(f.books, id)
	return nil
}

func (f *repoFake) UpdateExtraction(_ context.Context, id string, update domain.ExtractionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	if f.updateErr != nil {
		return f.updateErr
	}
	book, ok := f.books[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update extraction", errors.New("id="+id))
	}
	book.ExtractionStatus = update.Status
	book.ExtractionError = update.Error
	if update.Status == domain.ExtractionReady {
		book.ExtractedTextPath = update.TextPath
		at := update.At
		book.LastProcessed = &at
	}
	f.books[id] = book
	return nil
}

func (f *repoFake) statuses() []domain.ExtractionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ExtractionStatus, 0, len(f.updates))
	for _, u := range f.updates {
		out = append(out, u.Status)
	}
	return out
}

type storageFake struct {
	mu       sync.Mutex
	root     string
	files    map[string]string
	saveErr  error
	writeErr error
	removed  []string
}

func newStorageFake() *storageFake {
	return &storageFake{root: "/library", files: make(map[string]string)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	path := f.root + "/" + key
	f.mu.Lock()
	f.files[path] = string(raw)
	f.mu.Unlock()
	return path, nil
}

func (f *storageFake) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[path]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open file", errors.New(path))
	}
	return io.NopCloser(bytes.NewBufferString(body)), nil
}

func (f *storageFake) WriteFile(_ context.Context, path string, data io.Reader) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.files[path] = string(raw)
	f.mu.Unlock()
	return nil
}

func (f *storageFake) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	f.removed = append(f.removed, path)
	return nil
}

type publisherFake struct {
	ids []string
	err error
}

func (f *publisherFake) PublishEbookUploaded(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return f.err
}

type extractorFake struct {
	text  string
	err   error
	calls []string
}

func (f *extractorFake) Extract(_ context.Context, path string) (string, error) {
	f.calls = append(f.calls, path)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type observation struct {
	source string
	bytes  int
	err    error
}

type observerFake struct {
	got []observation
}

func (f *observerFake) RecordExtraction(source string, textBytes int, _ time.Duration, err error) {
	f.got = append(f.got, observation{source: source, bytes: textBytes, err: err})
}
