package lexical

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kalambet/docqa/internal/retrieval"
)

// Corpus supplies the complete current passage set of a collection.
type Corpus interface {
	All(ctx context.Context, collection string) ([]retrieval.Passage, error)
}

// Holder publishes the current Index to concurrent readers. Rebuilds build a
// new Index off to the side and replace the old one in a single store.
type Holder struct {
	current atomic.Pointer[Index]
}

// NewHolder returns a Holder with an empty index.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(Build(nil))
	return h
}

// Load returns the current index. It never returns nil.
func (h *Holder) Load() *Index {
	return h.current.Load()
}

// Swap installs idx and returns the index it replaced.
func (h *Holder) Swap(idx *Index) *Index {
	if idx == nil {
		idx = Build(nil)
	}
	return h.current.Swap(idx)
}

// Rebuild reads the whole collection from corpus and swaps in a new index.
// On error the previous index stays in place.
func (h *Holder) Rebuild(ctx context.Context, corpus Corpus, collection string) (int, error) {
	passages, err := corpus.All(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("loading corpus for lexical index: %w", err)
	}
	idx := Build(passages)
	h.Swap(idx)
	return idx.Len(), nil
}

// Retrieve searches the current index and returns candidates tagged
// OriginLexical. An empty index yields no candidates.
func (h *Holder) Retrieve(ctx context.Context, query string, k int) ([]retrieval.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := h.Load().Search(query, k)
	out := make([]retrieval.Candidate, len(hits))
	for i, hit := range hits {
		out[i] = retrieval.Candidate{Passage: hit.Passage, Score: hit.Score, Origin: retrieval.OriginLexical}
	}
	return out, nil
}
