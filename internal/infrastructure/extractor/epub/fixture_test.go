package epub

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fixtureChapter struct {
	id   string
	body string
	// missing leaves the chapter in the manifest but out of the archive.
	missing bool
}

type fixture struct {
	chapters []fixtureChapter
	// zipOrder lists chapter indexes in the order they are written to the archive.
	zipOrder []int
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

func writeEPUB(t *testing.T, f fixture) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "book.epub")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	write := func(name, body string, method uint16) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}

	write("mimetype", "application/epub+zip", zip.Store)
	write("META-INF/container.xml", containerXML, zip.Deflate)
	write("OEBPS/content.opf", packageDocument(f.chapters), zip.Deflate)

	order := f.zipOrder
	if len(order) == 0 {
		for i := range f.chapters {
			order = append(order, i)
		}
	}
	for _, i := range order {
		ch := f.chapters[i]
		if ch.missing {
			continue
		}
		write("OEBPS/"+ch.id+".xhtml", chapterDocument(ch), zip.Deflate)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

func packageDocument(chapters []fixtureChapter) string {
	var manifest, spine strings.Builder
	for _, ch := range chapters {
		fmt.Fprintf(&manifest, `    <item id="%s" href="%s.xhtml" media-type="application/xhtml+xml"/>`+"\n", ch.id, ch.id)
		fmt.Fprintf(&spine, `    <itemref idref="%s"/>`+"\n", ch.id)
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Fixture</dc:title>
    <dc:creator>Tester</dc:creator>
    <dc:identifier id="bookid">urn:uuid:fixture</dc:identifier>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
` + manifest.String() + `  </manifest>
  <spine>
` + spine.String() + `  </spine>
</package>
`
}

func chapterDocument(ch fixtureChapter) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
  <head><title>` + ch.id + `</title><style>p { margin: 0 }</style></head>
  <body><p>` + ch.body + `</p></body>
</html>
`
}
