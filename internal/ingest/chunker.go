package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, measured in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk is a piece of page text with its provenance.
type Chunk struct {
	Source string
	Page   int
	Text   string
}

// Chunker splits page text recursively: it prefers paragraph breaks, then
// line breaks, then spaces, and only cuts inside a word when nothing else
// keeps a piece under Size. Consecutive chunks of a page share up to
// Overlap trailing characters.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

// NewChunker validates size and overlap and returns a Chunker.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap, separators: defaultSeparators}, nil
}

// Split chunks each page independently, so every chunk carries the page it
// starts on. Output order follows input order.
func (c *Chunker) Split(pages []Page) []Chunk {
	var out []Chunk
	for _, p := range pages {
		for _, text := range c.SplitText(p.Text) {
			out = append(out, Chunk{Source: p.Source, Page: p.Number, Text: text})
		}
	}
	return out
}

// SplitText splits a single text into chunks of at most size characters.
func (c *Chunker) SplitText(text string) []string {
	return c.split(text, c.separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = ""
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeepSeparator(text, sep) {
		if runeLen(piece) < c.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, c.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, c.split(piece, rest)...)
		}
	}
	if len(small) > 0 {
		out = append(out, c.merge(small)...)
	}
	return out
}

// merge packs pieces into chunks up to size, carrying trailing pieces of
// each chunk into the next until at most overlap characters remain.
func (c *Chunker) merge(pieces []string) []string {
	var chunks, cur []string
	total := 0
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.size && len(cur) > 0 {
			if doc := strings.TrimSpace(strings.Join(cur, "")); doc != "" {
				chunks = append(chunks, doc)
			}
			for total > c.overlap || (total+n > c.size && total > 0) {
				total -= runeLen(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(cur, "")); doc != "" {
		chunks = append(chunks, doc)
	}
	return chunks
}

// splitKeepSeparator splits text on sep, keeping each separator at the
// start of the piece that follows it. An empty sep splits into runes.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
