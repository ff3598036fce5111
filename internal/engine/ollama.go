package engine

import (
	"context"
	"time"

	"github.com/kalambet/docqa/internal/ollama"
)

// OllamaEngine serves chat and embeddings from a local Ollama server and can
// pull missing models.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine for the server at baseURL. timeout
// bounds each chat and embed call; zero disables it.
func NewOllamaEngine(baseURL string, timeout time.Duration) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL, timeout)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message(m)
	}
	// A typed nil pointer would encode as "format": null.
	var format any
	if jsonSchema != nil {
		format = jsonSchema
	}
	return e.client.Chat(ctx, model, msgs, format)
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, model, texts)
}

func (e *OllamaEngine) Models(ctx context.Context) ([]string, error) {
	return e.client.Models(ctx)
}

func (e *OllamaEngine) Pull(ctx context.Context, model string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullStatus)
	if onProgress != nil {
		cb = func(st ollama.PullStatus) {
			onProgress(PullProgress{Status: st.Status, Total: st.Total, Completed: st.Completed})
		}
	}
	return e.client.Pull(ctx, model, cb)
}
