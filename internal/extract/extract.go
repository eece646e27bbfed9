// Package extract flattens chapter markup into narratable text.
//
// Only a small allow-list of structural tags contributes text; everything else
// (tables, lists, navigation, scripts) is dropped. The result is a lossy,
// reading-order-preserving rendition meant for a voice, not a screen.
package extract

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
)

// contentTags are the elements whose inner text is narrated.
var contentTags = map[string]bool{
	"title": true,
	"p":     true,
	"h1":    true,
	"h2":    true,
	"h3":    true,
	"h4":    true,
}

// Text extracts the narratable text of one chapter body. Matched elements are
// visited in document order; each non-empty fragment is trimmed and followed
// by exactly one newline. Malformed markup degrades to whatever text could be
// recovered rather than failing the chapter.
func Text(rawBody []byte) string {
	root, err := html.Parse(bytes.NewReader(rawBody))
	if err != nil {
		// html.Parse only fails on reader errors; a bytes.Reader never
		// produces one, but degrade to empty rather than guess.
		log.Warn("Unparseable chapter markup, skipping chapter text", "err", err)
		return ""
	}

	var b strings.Builder
	walk(root, &b)
	return b.String()
}

// walk visits nodes depth-first. A matched element contributes its full inner
// text and is not descended into, so nested matches are emitted exactly once.
func walk(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && contentTags[n.Data] {
		if t := strings.TrimSpace(innerText(n)); t != "" {
			b.WriteString(t)
			b.WriteByte('\n')
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}
