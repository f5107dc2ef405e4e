// Package epub converts EPUB containers on disk into a single plain-text document.
//
// The Extractor never talks to a parsing library directly. It goes through an
// Opener/Container pair, so the container implementation can be replaced without
// touching the extraction contract.
package epub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

// ChapterSeparator joins chapter bodies in the extracted text.
const ChapterSeparator = "\n\n"

const (
	defaultConcurrency = 8
	defaultTimeout     = 2 * time.Minute
)

// Container is an opened EPUB: an ordered list of chapter ids and a way to read them.
// ReadChapter must be safe for concurrent use.
type Container interface {
	Chapters() []string
	ReadChapter(ctx context.Context, id string) (string, error)
	Close() error
}

// Opener parses the file at path into a Container.
type Opener interface {
	Open(ctx context.Context, path string) (Container, error)
}

type OpenerFunc func(ctx context.Context, path string) (Container, error)

func (f OpenerFunc) Open(ctx context.Context, path string) (Container, error) {
	return f(ctx, path)
}

type Options struct {
	// Concurrency bounds the number of in-flight chapter reads.
	Concurrency int
	// Timeout bounds a whole extraction; zero means the default, negative disables it.
	Timeout time.Duration
}

type state string

const (
	stateUnopened state = "unopened"
	stateParsing  state = "parsing"
	stateComplete state = "complete"
	stateFailed   state = "failed"
)

type Extractor struct {
	opener      Opener
	concurrency int
	timeout     time.Duration
}

func NewExtractor(opener Opener, opts Options) *Extractor {
	if opener == nil {
		opener = NewGoreaderOpener()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Extractor{
		opener:      opener,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if err := checkReadableFile(path); err != nil {
		return "", err
	}
	transition(path, stateUnopened, stateParsing)

	text, chapters, err := e.extract(ctx, path)
	if err != nil {
		transition(path, stateParsing, stateFailed, "error", err)
		return "", err
	}
	transition(path, stateParsing, stateComplete, "chapters", chapters)
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, path string) (string, int, error) {
	container, err := e.opener.Open(ctx, path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", 0, fmt.Errorf("open container: %w", err)
		}
		return "", 0, domain.WrapError(domain.ErrParse, "open container", err)
	}
	defer container.Close()

	ids := container.Chapters()
	bodies := make([]string, len(ids))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)
	for i, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			body, err := container.ReadChapter(groupCtx, id)
			if err != nil {
				return domain.WrapError(domain.ErrChapterFetch, fmt.Sprintf("read chapter %q", id), err)
			}
			bodies[i] = body
			return nil
		})
	}
	err = group.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", 0, fmt.Errorf("extract chapters: %w", ctxErr)
	}
	if err != nil {
		return "", 0, err
	}

	return strings.Join(bodies, ChapterSeparator), len(ids), nil
}

func checkReadableFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return domain.WrapError(domain.ErrNotFound, "stat source file", err)
	}
	if !info.Mode().IsRegular() {
		return domain.WrapError(domain.ErrNotFound, "stat source file", fmt.Errorf("%s is not a regular file", path))
	}
	return nil
}

func transition(path string, from, to state, attrs ...any) {
	slog.Debug("epub_extraction",
		append([]any{"path", path, "from", string(from), "to", string(to)}, attrs...)...,
	)
}
