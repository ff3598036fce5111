package engine

import (
	"context"

	"github.com/kalambet/docqa/internal/openai"
)

// OpenAIEngine serves chat and embeddings from an OpenAI-compatible API.
// It cannot pull models, so it does not implement Puller.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an OpenAIEngine using the given client.
func NewOpenAIEngine(c *openai.Client) *OpenAIEngine {
	return &OpenAIEngine{client: c}
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]openai.Message, len(messages))
	for i, m := range messages {
		msgs[i] = openai.Message{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatRequest{Model: model, Messages: msgs}
	temp := 0.0
	req.Temperature = &temp
	if jsonSchema != nil {
		req.ResponseFormat = &openai.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &openai.JSONSchema{
				Name:   "response",
				Schema: jsonSchema,
			},
		}
	}
	return e.client.Chat(ctx, req)
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, model, texts)
}

func (e *OpenAIEngine) Models(ctx context.Context) ([]string, error) {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}
