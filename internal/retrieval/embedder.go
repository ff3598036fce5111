package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/docqa/internal/engine"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of texts sent per embedding request.
const DefaultBatchSize = 64

// maxConcurrentBatches bounds in-flight embedding requests.
const maxConcurrentBatches = 4

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine    engine.Engine
	model     string
	batchSize int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// batchSize <= 0 selects DefaultBatchSize.
func NewEmbedder(e engine.Engine, model string, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{engine: e, model: model, batchSize: batchSize}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.engine.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding text: got %d vectors, want 1", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order. Texts are sent in
// batches of batchSize with a bounded number of batches in flight.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.Embed(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding batch %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
