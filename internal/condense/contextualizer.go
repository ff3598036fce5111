// Package condense rewrites follow-up questions into standalone questions
// so retrieval does not depend on conversation history.
package condense

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/engine"
)

const defaultTimeout = 30 * time.Second

// Chatter is the slice of engine.Engine the contextualizer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Contextualizer turns (history, question) into a standalone question.
type Contextualizer struct {
	client  Chatter
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewContextualizer creates a Contextualizer using the given chat model.
func NewContextualizer(client Chatter, model string) *Contextualizer {
	return &Contextualizer{client: client, model: model, timeout: defaultTimeout, logger: slog.Default()}
}

// WithTimeout bounds each rewrite call. Non-positive values are ignored.
func (c *Contextualizer) WithTimeout(d time.Duration) *Contextualizer {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Standalone returns question rewritten against history. With no history the
// question is returned unchanged and the model is not called.
//
// If the model returns nothing usable the original question is used.
func (c *Contextualizer) Standalone(ctx context.Context, history []conversation.Turn, question string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(history, question), nil)
	if err != nil {
		return "", fmt.Errorf("rewriting question: %w", err)
	}

	out := clean(raw)
	if out == "" {
		c.logger.Warn("contextualizer returned empty rewrite, using original question")
		return question, nil
	}
	return out, nil
}

// clean strips the label and quoting some models echo back.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(strings.ToLower(s), "standalone question:"); i >= 0 {
		s = strings.TrimSpace(s[i+len("standalone question:"):])
	}
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"') {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
