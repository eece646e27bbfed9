// Package ebook reads epub files into a flat list of document items.
//
// It deliberately exposes the raw manifest rather than a chapter-centric view:
// the pipeline decides for itself which items are chapters, so every item comes
// back with its name, a coarse kind and its raw body bytes. Document items are
// returned in spine (reading) order, followed by the remaining manifest items.
package ebook

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/charmbracelet/log"
)

// Kind is the coarse classification of a manifest item.
type Kind int

const (
	// KindOther is any item that is neither readable content nor the cover.
	KindOther Kind = iota
	// KindDocument is readable (X)HTML content.
	KindDocument
	// KindCover is the cover image.
	KindCover
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindCover:
		return "cover"
	default:
		return "other"
	}
}

// Item is one entry of the epub manifest. Name is the manifest href and is
// unique within a book.
type Item struct {
	Name      string
	Kind      Kind
	MediaType string
	RawBody   []byte
}

// Book is an opened epub. All content is read eagerly; the underlying archive
// is closed before Open returns.
type Book struct {
	title  string
	author string
	items  []Item
	cover  int // index into items, -1 when absent
}

type containerXML struct {
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Titles   []string  `xml:"title"`
	Creators []string  `xml:"creator"`
	Metas    []opfMeta `xml:"meta"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfManifest struct {
	Items []opfItem `xml:"item"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	ItemRefs []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"itemref"`
}

// Open reads the epub at path. It fails if the container structure cannot be
// parsed; individual items that cannot be read are dropped with a debug log.
func Open(bookPath string) (*Book, error) {
	zr, err := zip.OpenReader(bookPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open epub: %w", err)
	}
	defer zr.Close() //nolint:errcheck

	containerData, err := readArchiveFile(&zr.Reader, "META-INF/container.xml")
	if err != nil {
		return nil, fmt.Errorf("not a valid epub: %w", err)
	}
	var container containerXML
	if err := xml.Unmarshal(containerData, &container); err != nil {
		return nil, fmt.Errorf("unable to parse container.xml: %w", err)
	}
	if len(container.RootFiles) == 0 {
		return nil, fmt.Errorf("no rootfile declared in container.xml")
	}

	opfPath := container.RootFiles[0].FullPath
	opfData, err := readArchiveFile(&zr.Reader, opfPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read package document: %w", err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("unable to parse package document: %w", err)
	}

	book := &Book{cover: -1}
	if len(pkg.Metadata.Titles) > 0 {
		book.title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}
	if len(pkg.Metadata.Creators) > 0 {
		book.author = strings.TrimSpace(pkg.Metadata.Creators[0])
	}

	opfDir := path.Dir(opfPath)
	coverID := coverItemID(pkg)

	manifest := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, it := range pkg.Manifest.Items {
		manifest[it.ID] = it
	}

	appendItem := func(it opfItem) {
		data, err := readArchiveFile(&zr.Reader, resolveHref(opfDir, it.Href))
		if err != nil {
			log.Debug("Skipping unreadable manifest item", "href", it.Href, "err", err)
			return
		}
		item := Item{
			Name:      it.Href,
			Kind:      itemKind(it, coverID),
			MediaType: it.MediaType,
			RawBody:   data,
		}
		if item.Kind == KindCover && book.cover < 0 {
			book.cover = len(book.items)
		}
		book.items = append(book.items, item)
	}

	// Spine order first: that is the declared reading order.
	seen := make(map[string]bool, len(pkg.Spine.ItemRefs))
	for _, ref := range pkg.Spine.ItemRefs {
		it, ok := manifest[ref.IDRef]
		if !ok {
			log.Debug("Spine references unknown manifest id", "idref", ref.IDRef)
			continue
		}
		seen[it.ID] = true
		appendItem(it)
	}
	for _, it := range pkg.Manifest.Items {
		if !seen[it.ID] {
			appendItem(it)
		}
	}

	return book, nil
}

// Title returns the first declared title, or an empty string.
func (b *Book) Title() string { return b.title }

// Author returns the first declared creator, or an empty string.
func (b *Book) Author() string { return b.author }

// Items returns all readable manifest items, documents in spine order first.
func (b *Book) Items() []Item { return b.items }

// Cover returns the cover image item, if the book declares one.
func (b *Book) Cover() (Item, bool) {
	if b.cover < 0 {
		return Item{}, false
	}
	return b.items[b.cover], true
}

func itemKind(it opfItem, coverID string) Kind {
	mt := strings.ToLower(it.MediaType)
	switch {
	case strings.Contains(mt, "xhtml") || strings.Contains(mt, "html"):
		return KindDocument
	case strings.HasPrefix(mt, "image/") && isCoverItem(it, coverID):
		return KindCover
	default:
		return KindOther
	}
}

func isCoverItem(it opfItem, coverID string) bool {
	if strings.Contains(it.Properties, "cover-image") {
		return true
	}
	if coverID != "" && it.ID == coverID {
		return true
	}
	return it.ID == "cover"
}

// coverItemID finds the epub2-style cover declaration: <meta name="cover"
// content="manifest-id"/>.
func coverItemID(pkg opfPackage) string {
	for _, m := range pkg.Metadata.Metas {
		if m.Name == "cover" {
			return m.Content
		}
	}
	return ""
}

func resolveHref(opfDir, href string) string {
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	if opfDir == "." || opfDir == "" {
		return href
	}
	return path.Join(opfDir, href)
}

func readArchiveFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("unable to open %s: %w", name, err)
			}
			defer rc.Close() //nolint:errcheck
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil, fmt.Errorf("unable to read %s: %w", name, err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
