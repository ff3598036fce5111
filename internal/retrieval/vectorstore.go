package retrieval

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrCollectionNotFound is returned when an operation targets a
	// collection that was never created.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the dimension fixed at collection creation.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Field length limits of the collection schema.
const (
	MaxTextLength   = 50000
	MaxSourceLength = 1000
)

// VectorStore persists passages into named collections and answers exact
// nearest-neighbour queries by inner product.
//
// A collection's dimension is fixed when it is first created; later
// EnsureCollection calls load it and fail if the dimension differs.
// Passages are append-only and get a surrogate id from the store.
type VectorStore interface {
	// EnsureCollection creates the collection if missing, or loads it.
	EnsureCollection(ctx context.Context, name string, dim int) (Collection, error)

	// Insert appends passages and returns their assigned ids in order.
	// The whole batch is rejected if any passage violates the schema.
	Insert(ctx context.Context, collection string, passages []Passage) ([]int64, error)

	// Search returns the top-k passages by inner product with vector,
	// highest score first.
	Search(ctx context.Context, collection string, vector []float32, k int) ([]ScoredPassage, error)

	// Query returns rows matching filter, projected to fields.
	Query(ctx context.Context, collection, filter string, fields []string, limit int) ([]map[string]any, error)

	// All returns every passage in insertion order, without embeddings.
	All(ctx context.Context, collection string) ([]Passage, error)

	// Count returns the number of passages in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// HasContentHash reports whether a passage with the given hash exists.
	HasContentHash(ctx context.Context, collection, hash string) (bool, error)
}

// Collection describes a named set of passages.
type Collection struct {
	Name      string
	Dimension int
}

// Passage is one chunk of a source document with its provenance.
type Passage struct {
	ID          int64     `json:"id"`
	Content     string    `json:"text"`
	SourceID    string    `json:"source"`
	Page        int       `json:"page"`
	Embedding   []float32 `json:"-"`
	ContentHash string    `json:"-"`
}

// ScoredPassage is a Passage with a similarity score attached.
type ScoredPassage struct {
	Passage
	Score float32
}

// Origin records which retriever produced a candidate.
type Origin string

const (
	OriginDense   Origin = "dense"
	OriginLexical Origin = "lexical"
	OriginFused   Origin = "fused"
)

// Candidate is a passage under consideration for a single query. Candidates
// are never persisted.
type Candidate struct {
	Passage Passage
	Score   float64
	Origin  Origin
}

// Key identifies a candidate's passage for deduplication across
// retrievers. Both sides read the same collection, so the stored id is the
// identity; duplicate rows with identical text stay distinct. Passages that
// were never stored fall back to provenance and text.
func (c Candidate) Key() string {
	if c.Passage.ID != 0 {
		return "id:" + strconv.FormatInt(c.Passage.ID, 10)
	}
	return c.Passage.SourceID + "\x00" + strconv.Itoa(c.Passage.Page) + "\x00" + c.Passage.Content
}
