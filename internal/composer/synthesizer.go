// Package composer turns ranked passages into a grounded answer.
package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/retrieval"
)

// Chatter is the slice of engine.Engine the synthesizer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Source is a document reference attached to an answer.
type Source struct {
	SourceID string `json:"source"`
	Page     int    `json:"page"`
}

// Answer is the synthesizer's output.
type Answer struct {
	Text    string
	Sources []Source
}

// Synthesizer generates answers with a chat model.
type Synthesizer struct {
	client   Chatter
	model    string
	composer *Composer
}

// NewSynthesizer creates a Synthesizer. A nil composer uses the default budget.
func NewSynthesizer(client Chatter, model string, c *Composer) *Synthesizer {
	if c == nil {
		c = New(0)
	}
	return &Synthesizer{client: client, model: model, composer: c}
}

// Answer answers question from passages. With no passages it replies
// NoAnswer without calling the model. Sources come from the passages that
// fit in the prompt, deduplicated by (source, page).
func (s *Synthesizer) Answer(ctx context.Context, question string, passages []retrieval.Candidate, history []conversation.Turn) (Answer, error) {
	if len(passages) == 0 {
		return Answer{Text: NoAnswer, Sources: []Source{}}, nil
	}

	msgs, used := s.composer.Compose(question, passages, history)
	if len(used) == 0 {
		return Answer{Text: NoAnswer, Sources: []Source{}}, nil
	}

	raw, err := s.client.Chat(ctx, s.model, msgs, nil)
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return Answer{}, fmt.Errorf("generating answer: model returned an empty response")
	}
	return Answer{Text: text, Sources: DedupSources(used)}, nil
}

// DedupSources lists the distinct (source, page) pairs of passages in order
// of first appearance.
func DedupSources(passages []retrieval.Candidate) []Source {
	out := make([]Source, 0, len(passages))
	seen := make(map[Source]struct{}, len(passages))
	for _, p := range passages {
		src := Source{SourceID: p.Passage.SourceID, Page: p.Passage.Page}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}
