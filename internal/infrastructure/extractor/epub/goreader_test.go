package epub

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

func TestExtractTwoChapterBook(t *testing.T) {
	path := writeEPUB(t, fixture{chapters: []fixtureChapter{
		{id: "ch1", body: "Hello"},
		{id: "ch2", body: "World"},
	}})

	text, err := NewExtractor(nil, Options{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Hello\n\nWorld" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractFollowsSpineNotArchiveOrder(t *testing.T) {
	path := writeEPUB(t, fixture{
		chapters: []fixtureChapter{
			{id: "intro", body: "One"},
			{id: "middle", body: "Two"},
			{id: "end", body: "Three"},
		},
		zipOrder: []int{2, 0, 1},
	})

	extractor := NewExtractor(nil, Options{Concurrency: 3})
	first, err := extractor.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if first != "One\n\nTwo\n\nThree" {
		t.Fatalf("unexpected text %q", first)
	}

	second, err := extractor.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("second Extract() error = %v", err)
	}
	if second != first {
		t.Fatalf("expected identical output on re-run, got %q vs %q", second, first)
	}
}

func TestExtractRejectsNonContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.epub")
	if err := os.WriteFile(path, []byte("definitely not a zip archive"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := NewExtractor(nil, Options{}).Extract(context.Background(), path)
	if !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestExtractFailsWholeBookWhenChapterMissing(t *testing.T) {
	path := writeEPUB(t, fixture{chapters: []fixtureChapter{
		{id: "ch1", body: "Hello"},
		{id: "ch2", body: "World", missing: true},
		{id: "ch3", body: "Again"},
	}})

	text, err := NewExtractor(nil, Options{}).Extract(context.Background(), path)
	if !domain.IsKind(err, domain.ErrChapterFetch) {
		t.Fatalf("expected ErrChapterFetch, got %v", err)
	}
	if text != "" {
		t.Fatalf("expected no partial text, got %q", text)
	}
	if !strings.Contains(err.Error(), `"ch2"`) {
		t.Fatalf("expected failing chapter id in error, got %v", err)
	}
}

func TestGoreaderOpenerListsSpine(t *testing.T) {
	path := writeEPUB(t, fixture{chapters: []fixtureChapter{
		{id: "a", body: "x"},
		{id: "b", body: "y"},
	}})

	container, err := NewGoreaderOpener().Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ids := container.Chapters()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected chapters %v", ids)
	}
	body, err := container.ReadChapter(context.Background(), "b")
	if err != nil {
		t.Fatalf("ReadChapter() error = %v", err)
	}
	if body != "y" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := container.ReadChapter(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown chapter id")
	}
}

func TestExtractZipWithoutContainerIsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.epub")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(out)
	w, err := zw.Create("mimetype")
	if err != nil {
		t.Fatalf("zip entry: %v", err)
	}
	_, _ = w.Write([]byte("application/epub+zip"))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	_ = out.Close()

	_, err = NewExtractor(nil, Options{}).Extract(context.Background(), path)
	if !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if !strings.Contains(err.Error(), containerEntry) {
		t.Fatalf("expected missing container entry in error, got %v", err)
	}
}

func openDescriptors(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("descriptor count unavailable: %v", err)
	}
	return len(entries)
}

func TestFailedExtractionsReleaseFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.epub")
	if err := os.WriteFile(path, []byte("definitely not a zip archive"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ex := NewExtractor(nil, Options{})

	before := openDescriptors(t)
	for i := 0; i < 50; i++ {
		if _, err := ex.Extract(context.Background(), path); !domain.IsKind(err, domain.ErrParse) {
			t.Fatalf("expected ErrParse, got %v", err)
		}
	}
	if after := openDescriptors(t); after > before+2 {
		t.Fatalf("descriptors grew from %d to %d", before, after)
	}
}

func TestSuccessfulExtractionsReleaseFiles(t *testing.T) {
	path := writeEPUB(t, fixture{chapters: []fixtureChapter{{id: "ch1", body: "Hello"}}})
	ex := NewExtractor(nil, Options{})

	before := openDescriptors(t)
	for i := 0; i < 50; i++ {
		if _, err := ex.Extract(context.Background(), path); err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
	}
	if after := openDescriptors(t); after > before+2 {
		t.Fatalf("descriptors grew from %d to %d", before, after)
	}
}
