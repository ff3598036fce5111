package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/retrieval"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 3
	defaultTimeout     = 10 * time.Second
)

// LLMReranker asks a chat model to score each (query, passage) pair.
// Scoring runs concurrently, bounded to defaultConcurrency requests.
type LLMReranker struct {
	engine  engine.Engine
	model   string
	topN    int
	timeout time.Duration
}

// NewLLMReranker creates an LLM-backed reranker.
func NewLLMReranker(eng engine.Engine, model string, topN int, timeout time.Duration) *LLMReranker {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LLMReranker{engine: eng, model: model, topN: topN, timeout: timeout}
}

// Rerank scores every candidate and returns the topN best. Any scoring
// failure, including the timeout, fails the whole call so the caller can
// fall back to the fused order.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scores := make([]float64, len(candidates))
	g, gCtx := errgroup.WithContext(timeoutCtx)
	g.SetLimit(defaultConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			s, err := r.score(gCtx, query, c.Passage.Content)
			if err != nil {
				return fmt.Errorf("scoring candidate %d: %w", i, err)
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return selectTop(candidates, scores, r.topN), nil
}

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score": {Type: "number", Description: "Relevance score from 0.0 to 1.0"},
	},
	Required: []string{"score"},
}

func (r *LLMReranker) score(ctx context.Context, query, text string) (float64, error) {
	prompt := "Rate how well the passage answers the question on a scale of 0.0 to 1.0.\n" +
		"Question: " + query + "\n" +
		"Passage: " + text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	resp, err := r.engine.Chat(ctx, r.model, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, scoreSchema)
	if err != nil {
		return 0, err
	}

	s, err := parseScore(resp)
	if err != nil {
		slog.Debug("reranker: unparseable score", "resp", resp, "error", err)
		return 0, err
	}
	return s, nil
}

// parseScore extracts the score from a model response. Models often wrap
// JSON in markdown code fences or add filler text around it, so the object
// is located by its outermost braces.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, fmt.Errorf("unmarshal score: %w", err)
	}
	if obj.Score == nil {
		return 0, fmt.Errorf("response has no score field")
	}
	return *obj.Score, nil
}
