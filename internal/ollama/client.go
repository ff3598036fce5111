package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is a chat turn in Ollama's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to a local Ollama server. It covers the four endpoints the
// question answering service needs: tags, pull, chat and embed.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client for the Ollama server at baseURL. A positive timeout
// bounds each chat and embed request; pulls are bounded only by ctx.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Models returns the names of the locally installed models, tag included
// ("llama3.2:latest").
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("tags", resp); err != nil {
		return nil, err
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding tags response: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// PullStatus is one line of the streamed pull response.
type PullStatus struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Pull downloads a model and reads the progress stream to its end. onProgress
// may be nil.
func (c *Client) Pull(ctx context.Context, model string, onProgress func(PullStatus)) error {
	resp, err := c.post(ctx, "/api/pull", map[string]any{"model": model, "stream": true})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var st PullStatus
		if err := dec.Decode(&st); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if st.Error != "" {
			return fmt.Errorf("pulling model %s: %s", model, st.Error)
		}
		if onProgress != nil {
			onProgress(st)
		}
	}
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// Chat runs a non-streaming completion at temperature 0. A non-nil format
// (a JSON Schema value) asks Ollama for structured output.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, format any) (string, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	resp, err := c.post(ctx, "/api/chat", chatRequest{
		Model:    model,
		Messages: messages,
		Format:   format,
		Options:  map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return out.Message.Content, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per text, in input order, from a single batched
// request.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	resp, err := c.post(ctx, "/api/embed", embedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// post sends body as JSON and returns the response once its status is 200.
// The caller closes the body.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(strings.TrimPrefix(path, "/api/"), resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// checkStatus turns a non-200 response into an error carrying Ollama's
// error message when the body has one.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
}
