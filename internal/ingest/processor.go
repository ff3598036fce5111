// Package ingest turns a directory of PDFs into embedded passages in the
// vector store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docqa/internal/retrieval"
)

// Processor is an ingestion strategy.
type Processor interface {
	// LoadAndSplit reads every document in dir and returns its passages
	// without embeddings.
	LoadAndSplit(ctx context.Context, dir string) ([]retrieval.Passage, error)

	// ComputeAndStoreEmbeddings ingests dir: load, split, embed, insert.
	ComputeAndStoreEmbeddings(ctx context.Context, dir string) (Stats, error)
}

// RootedProcessor is implemented by processors that can name sources relative
// to a root above the ingested directory. Ingesting a subdirectory of the
// document store this way keeps source ids relative to the store.
type RootedProcessor interface {
	ComputeAndStoreEmbeddingsUnder(ctx context.Context, root, dir string) (Stats, error)
}

// Kind selects a Processor implementation.
type Kind string

// KindNaive is fixed-size recursive chunking with no layout awareness.
const KindNaive Kind = "naive"

// ParseKind validates a configured processor kind. Empty means KindNaive.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindNaive:
		return KindNaive, nil
	default:
		return "", fmt.Errorf("unknown processor kind %q", s)
	}
}

// BatchEmbedder embeds texts in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PassageStore is the part of the vector store ingestion writes to.
type PassageStore interface {
	EnsureCollection(ctx context.Context, name string, dim int) (retrieval.Collection, error)
	Insert(ctx context.Context, collection string, passages []retrieval.Passage) ([]int64, error)
	HasContentHash(ctx context.Context, collection, hash string) (bool, error)
}

// Deps are the collaborators and settings shared by all processors.
type Deps struct {
	Loader     PageLoader
	Embedder   BatchEmbedder
	Store      PassageStore
	Collection string
	Dimension  int

	// ChunkSize zero selects both chunking defaults.
	ChunkSize    int
	ChunkOverlap int

	// Dedup skips passages whose content hash is already stored.
	Dedup bool

	Logger *slog.Logger
}

// Stats summarizes one ingestion run.
type Stats struct {
	BatchID  string        `json:"batch_id"`
	Pages    int           `json:"pages"`
	Passages int           `json:"passages"`
	Inserted int           `json:"inserted"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// NewProcessor returns the processor for kind.
func NewProcessor(kind Kind, deps Deps) (Processor, error) {
	if deps.Loader == nil {
		deps.Loader = PDFLoader{}
	}
	if deps.Embedder == nil || deps.Store == nil {
		return nil, fmt.Errorf("processor requires an embedder and a store")
	}
	if deps.Collection == "" {
		return nil, fmt.Errorf("processor requires a collection name")
	}
	if deps.ChunkSize == 0 {
		deps.ChunkSize, deps.ChunkOverlap = DefaultChunkSize, DefaultChunkOverlap
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	switch kind {
	case KindNaive, "":
		chunker, err := NewChunker(deps.ChunkSize, deps.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		return &NaiveProcessor{deps: deps, chunker: chunker}, nil
	default:
		return nil, fmt.Errorf("unknown processor kind %q", kind)
	}
}

// NaiveProcessor splits page text with the recursive Chunker.
type NaiveProcessor struct {
	deps    Deps
	chunker *Chunker
}

func (p *NaiveProcessor) LoadAndSplit(ctx context.Context, dir string) ([]retrieval.Passage, error) {
	passages, _, err := p.loadAndSplit(ctx, dir, "")
	return passages, err
}

// loadAndSplit joins prefix onto every source id.
func (p *NaiveProcessor) loadAndSplit(ctx context.Context, dir, prefix string) ([]retrieval.Passage, int, error) {
	pages, err := p.deps.Loader.Load(ctx, dir)
	if err != nil {
		return nil, 0, err
	}
	chunks := p.chunker.Split(pages)
	passages := make([]retrieval.Passage, len(chunks))
	for i, c := range chunks {
		source := c.Source
		if prefix != "" {
			source = path.Join(prefix, source)
		}
		passages[i] = retrieval.Passage{
			Content:     c.Text,
			SourceID:    source,
			Page:        c.Page,
			ContentHash: ContentHash(source, c.Page, c.Text),
		}
	}
	return passages, len(pages), nil
}

func (p *NaiveProcessor) ComputeAndStoreEmbeddings(ctx context.Context, dir string) (Stats, error) {
	return p.computeAndStore(ctx, dir, "")
}

// ComputeAndStoreEmbeddingsUnder ingests dir, which must lie inside root,
// with source ids relative to root.
func (p *NaiveProcessor) ComputeAndStoreEmbeddingsUnder(ctx context.Context, root, dir string) (Stats, error) {
	prefix, ok := relativeTo(root, dir)
	if !ok {
		return Stats{}, &Error{File: dir, Stage: StageLoad, Err: fmt.Errorf("not inside %s", root)}
	}
	return p.computeAndStore(ctx, dir, prefix)
}

func (p *NaiveProcessor) computeAndStore(ctx context.Context, dir, prefix string) (Stats, error) {
	start := time.Now()
	stats := Stats{BatchID: uuid.New().String()}
	log := p.deps.Logger.With("batch_id", stats.BatchID, "dir", dir)

	if _, err := p.deps.Store.EnsureCollection(ctx, p.deps.Collection, p.deps.Dimension); err != nil {
		return stats, &Error{Stage: StageStore, Err: err}
	}

	passages, pages, err := p.loadAndSplit(ctx, dir, prefix)
	if err != nil {
		return stats, err
	}
	stats.Pages = pages
	stats.Passages = len(passages)

	if p.deps.Dedup {
		passages, err = p.dropKnown(ctx, passages)
		if err != nil {
			return stats, &Error{Stage: StageStore, Err: err}
		}
		stats.Skipped = stats.Passages - len(passages)
	}
	if len(passages) == 0 {
		log.Warn("nothing to ingest", "pages", stats.Pages, "skipped", stats.Skipped)
		stats.Duration = time.Since(start)
		return stats, nil
	}

	texts := make([]string, len(passages))
	for i := range passages {
		texts[i] = passages[i].Content
	}
	vecs, err := p.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return stats, &Error{Stage: StageEmbed, Err: err}
	}
	if len(vecs) != len(passages) {
		return stats, &Error{Stage: StageEmbed, Err: fmt.Errorf("got %d vectors for %d passages", len(vecs), len(passages))}
	}
	for i := range passages {
		passages[i].Embedding = vecs[i]
	}

	if _, err := p.deps.Store.Insert(ctx, p.deps.Collection, passages); err != nil {
		return stats, &Error{Stage: StageStore, Err: err}
	}
	stats.Inserted = len(passages)
	stats.Duration = time.Since(start)

	log.Info("ingested documents",
		"pages", stats.Pages,
		"passages", stats.Passages,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)
	return stats, nil
}

// dropKnown removes passages already stored, and repeats within the batch.
func (p *NaiveProcessor) dropKnown(ctx context.Context, passages []retrieval.Passage) ([]retrieval.Passage, error) {
	seen := make(map[string]struct{}, len(passages))
	kept := passages[:0]
	for _, ps := range passages {
		if _, dup := seen[ps.ContentHash]; dup {
			continue
		}
		seen[ps.ContentHash] = struct{}{}
		exists, err := p.deps.Store.HasContentHash(ctx, p.deps.Collection, ps.ContentHash)
		if err != nil {
			return nil, err
		}
		if !exists {
			kept = append(kept, ps)
		}
	}
	return kept, nil
}

// ContentHash identifies a passage by provenance and text.
func ContentHash(source string, page int, text string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(page)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// relativeTo returns dir relative to root in slash form ("" for root
// itself). ok is false when dir is outside root.
func relativeTo(root, dir string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}
