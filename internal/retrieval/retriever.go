package retrieval

import (
	"context"
	"fmt"
)

// DenseRetriever embeds a query and searches one vector collection.
type DenseRetriever struct {
	embedder   *Embedder
	store      VectorStore
	collection string
}

// NewDenseRetriever creates a retriever over the named collection.
func NewDenseRetriever(embedder *Embedder, store VectorStore, collection string) *DenseRetriever {
	return &DenseRetriever{embedder: embedder, store: store, collection: collection}
}

// Collection returns the collection searched by the retriever.
func (r *DenseRetriever) Collection() string { return r.collection }

// Retrieve embeds the query and returns the top-k passages by inner product,
// best first. Every candidate is tagged OriginDense.
func (r *DenseRetriever) Retrieve(ctx context.Context, query string, k int) ([]Candidate, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, r.collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", r.collection, err)
	}
	return toCandidates(scored), nil
}

func toCandidates(scored []ScoredPassage) []Candidate {
	out := make([]Candidate, len(scored))
	for i, s := range scored {
		out[i] = Candidate{Passage: s.Passage, Score: float64(s.Score), Origin: OriginDense}
	}
	return out
}
