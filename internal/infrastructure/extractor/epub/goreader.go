package epub

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/taylorskalyo/goreader/epub"
)

const containerEntry = "META-INF/container.xml"

var (
	errNoRootfile  = errors.New("no rootfile in container")
	errNoContainer = errors.New("missing " + containerEntry)
)

// GoreaderOpener opens containers with taylorskalyo/goreader. Chapter reads go
// through archive/zip on an io.ReaderAt and are safe to run concurrently.
type GoreaderOpener struct{}

func NewGoreaderOpener() *GoreaderOpener {
	return &GoreaderOpener{}
}

func (o *GoreaderOpener) Open(ctx context.Context, path string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	c, err := newContainer(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

// newContainer owns f only on success.
func newContainer(f *os.File) (*goreaderContainer, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	size := info.Size()

	// goreader dereferences the container entry without checking it exists.
	z, err := zip.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("read zip: %w", err)
	}
	if !hasEntry(z, containerEntry) {
		return nil, errNoContainer
	}

	r, err := epub.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("goreader open: %w", err)
	}
	if len(r.Rootfiles) == 0 {
		return nil, errNoRootfile
	}

	book := r.Rootfiles[0]
	c := &goreaderContainer{
		file:  f,
		ids:   make([]string, 0, len(book.Spine.Itemrefs)),
		items: make(map[string]*epub.Item, len(book.Spine.Itemrefs)),
	}
	for _, ref := range book.Spine.Itemrefs {
		c.ids = append(c.ids, ref.IDREF)
		c.items[ref.IDREF] = ref.Item
	}
	return c, nil
}

func hasEntry(z *zip.Reader, name string) bool {
	for _, zf := range z.File {
		if zf.Name == name {
			return true
		}
	}
	return false
}

type goreaderContainer struct {
	file  *os.File
	ids   []string
	items map[string]*epub.Item
}

func (c *goreaderContainer) Chapters() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

func (c *goreaderContainer) ReadChapter(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	item, ok := c.items[id]
	if !ok || item == nil {
		return "", fmt.Errorf("no manifest item for spine entry %q", id)
	}

	r, err := item.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", item.HREF, err)
	}
	defer r.Close()

	text, err := renderChapter(r)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", item.HREF, err)
	}
	return text, nil
}

func (c *goreaderContainer) Close() error {
	return c.file.Close()
}
