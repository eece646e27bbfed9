// Package layout derives the on-disk artifact paths for one conversion run.
// Every path is a deterministic function of the input filename, which is what
// makes a rerun able to resume purely from file presence.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Layout names the artifacts produced while converting a single e-book.
type Layout struct {
	dir  string
	base string
}

// New returns the layout for an e-book path. Artifacts are placed in the
// current working directory, named after the input file.
func New(bookPath string) Layout {
	return In("", bookPath)
}

// In returns the layout for an e-book path with artifacts placed in dir.
func In(dir, bookPath string) Layout {
	base := filepath.Base(bookPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return Layout{dir: dir, base: base}
}

// Base returns the bare book name, without extension.
func (l Layout) Base() string { return l.base }

// ChapterWAV returns the path of the synthesized audio for one chapter.
// Chapter numbers are 1-based.
func (l Layout) ChapterWAV(n int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s_chapter_%d.wav", l.base, n))
}

// Intermediate returns the path of the combined AAC track that feeds the muxer.
func (l Layout) Intermediate() string {
	return filepath.Join(l.dir, l.base+".tmp.m4a")
}

// Final returns the path of the finished audiobook.
func (l Layout) Final() string {
	return filepath.Join(l.dir, l.base+".m4b")
}
