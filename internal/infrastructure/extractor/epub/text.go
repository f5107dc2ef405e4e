package epub

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true,
	"figure": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true,
	"li": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true,
	"ul": true,
}

// renderChapter turns a chapter's XHTML into plain text: one line per block
// element, inline whitespace collapsed.
func renderChapter(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("head, script, style, noscript").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var w lineWriter
	for _, n := range root.Nodes {
		w.walk(n)
	}
	w.flush()
	return strings.Join(w.lines, "\n"), nil
}

type lineWriter struct {
	lines   []string
	current strings.Builder
}

func (w *lineWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.current.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "br" {
			w.flush()
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block {
		w.flush()
	}
}

func (w *lineWriter) flush() {
	line := strings.Join(strings.Fields(w.current.String()), " ")
	w.current.Reset()
	if line != "" {
		w.lines = append(w.lines, line)
	}
}
