package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ledongthuc/pdf"
)

// DefaultPattern selects every PDF below the ingestion directory.
const DefaultPattern = "**/*.pdf"

// Page is the extracted text of one document page. Number is zero-based.
type Page struct {
	Source string
	Number int
	Text   string
}

// PageLoader yields the pages of every document in a directory.
type PageLoader interface {
	Load(ctx context.Context, dir string) ([]Page, error)
}

// PDFLoader reads the PDFs in a directory that match Pattern. Source ids are
// paths relative to the directory, so a file keeps its id when it is moved
// from the upload area into the document store.
type PDFLoader struct {
	Pattern string
}

// Files returns the matching files under dir, relative to dir, sorted.
func (l PDFLoader) Files(dir string) ([]string, error) {
	pattern := l.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("matching %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Load extracts every page of every matching file. Any unreadable file fails
// the whole load, so nothing from the directory is indexed.
func (l PDFLoader) Load(ctx context.Context, dir string) ([]Page, error) {
	files, err := l.Files(dir)
	if err != nil {
		return nil, &Error{File: dir, Stage: StageLoad, Err: err}
	}

	var pages []Page
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := ReadPDF(filepath.Join(dir, filepath.FromSlash(rel)), rel)
		if err != nil {
			return nil, &Error{File: rel, Stage: StageLoad, Err: err}
		}
		pages = append(pages, p...)
	}
	return pages, nil
}

// ReadPDF extracts the plain text of each page of the PDF at path.
func ReadPDF(path, sourceID string) (pages []Page, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Source: sourceID, Number: i - 1, Text: text})
	}
	return pages, nil
}

// Document describes a stored source document.
type Document struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// ListDocuments returns the documents in dir matching pattern, sorted by
// name. A missing directory yields an empty list.
func ListDocuments(dir, pattern string) ([]Document, error) {
	files, err := PDFLoader{Pattern: pattern}.Files(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Document{}, nil
		}
		return nil, err
	}
	docs := make([]Document, 0, len(files))
	for _, rel := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Filename: rel, Path: path, Size: info.Size()})
	}
	return docs, nil
}
