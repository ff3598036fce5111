// Package reranking re-scores fused retrieval candidates against the query
// and keeps the best top-N.
package reranking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/retrieval"
)

// DefaultTopN is the number of candidates kept after reranking.
const DefaultTopN = 3

// Reranker re-scores candidates by query relevance and returns at most its
// top-N, best first. Returned candidates are always a subset of the input.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error)
}

// Mode selects a Reranker implementation.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeLLM    Mode = "llm"
	ModeRemote Mode = "remote"
)

// ParseMode validates a configured mode. Empty means ModeOff.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeOff, nil
	case ModeOff, ModeLLM, ModeRemote:
		return m, nil
	default:
		return "", fmt.Errorf("unknown reranking mode %q (want off, llm or remote)", s)
	}
}

// Options configures New.
type Options struct {
	TopN    int
	Timeout time.Duration

	// Engine and Model are used by ModeLLM.
	Engine engine.Engine
	Model  string

	// URL is the base URL of the rerank service used by ModeRemote. Model
	// is sent along with each request.
	URL string
}

// New returns the Reranker for mode.
func New(mode Mode, opts Options) (Reranker, error) {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	switch mode {
	case ModeOff, "":
		return &NoOpReranker{}, nil
	case ModeLLM:
		if opts.Engine == nil {
			return nil, fmt.Errorf("llm reranking requires an engine")
		}
		return NewLLMReranker(opts.Engine, opts.Model, opts.TopN, opts.Timeout), nil
	case ModeRemote:
		if opts.URL == "" {
			return nil, fmt.Errorf("remote reranking requires reranking.url")
		}
		return NewRemoteReranker(opts.URL, opts.Model, opts.TopN, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown reranking mode %q", mode)
	}
}

// NoOpReranker passes candidates through unchanged. Used when reranking is
// disabled; the caller keeps the fused top-k.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error) {
	return candidates, nil
}

// selectTop assigns scores to a copy of candidates, orders it by score
// descending (input order on ties) and truncates to topN.
func selectTop(candidates []retrieval.Candidate, scores []float64, topN int) []retrieval.Candidate {
	out := make([]retrieval.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}
