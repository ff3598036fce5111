package reranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/docqa/internal/retrieval"
)

// RemoteReranker calls a cross-encoder rerank service speaking the common
// POST /rerank protocol (query plus documents in, index plus
// relevance_score out).
type RemoteReranker struct {
	baseURL    string
	model      string
	topN       int
	httpClient *http.Client
}

// NewRemoteReranker creates a reranker for the service at baseURL.
func NewRemoteReranker(baseURL, model string, topN int, timeout time.Duration) *RemoteReranker {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RemoteReranker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		topN:       topN,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends all candidates in one request. Indices the service does not
// return are treated as least relevant.
func (r *RemoteReranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Passage.Content
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: docs, TopN: len(docs)})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling rerank service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("rerank service returned no results")
	}

	scores := make([]float64, len(candidates))
	seen := make([]bool, len(candidates))
	minScore := out.Results[0].RelevanceScore
	for _, res := range out.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank service returned index %d for %d documents", res.Index, len(candidates))
		}
		scores[res.Index] = res.RelevanceScore
		seen[res.Index] = true
		minScore = min(minScore, res.RelevanceScore)
	}
	for i := range scores {
		if !seen[i] {
			scores[i] = minScore - 1
		}
	}

	return selectTop(candidates, scores, r.topN), nil
}
