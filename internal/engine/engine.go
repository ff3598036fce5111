package engine

import "context"

// Engine abstracts the model backend (a hosted OpenAI-compatible API or a
// local Ollama server). The embedder, contextualizer, reranker and answer
// synthesizer use this interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns one embedding vector per text, in the order given.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	// Models lists the model names the backend serves. An error means the
	// backend is unreachable or rejected the credentials.
	Models(ctx context.Context) ([]string, error)
}

// Puller is implemented by backends that can download a missing model.
type Puller interface {
	Pull(ctx context.Context, model string, onProgress func(PullProgress)) error
}
