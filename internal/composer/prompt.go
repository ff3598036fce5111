package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/retrieval"
)

const defaultMaxContextTokens = 4000

// NoAnswer is the reply used when the passages cannot support an answer.
const NoAnswer = "I don't know."

const systemPrompt = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

Rules:
- Answer only from the context below.
- If the context does not contain the answer, reply exactly: ` + NoAnswer + `
- Be concise.`

// Composer assembles the answer prompt from ranked passages, keeping the
// injected context under a token budget.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose builds the chat messages for question: a system message carrying
// the selected passages, the prior turns, then the question. Passages are
// taken in the order given; any that would overflow the budget are skipped.
// It returns the passages that made it into the prompt.
func (c *Composer) Compose(question string, passages []retrieval.Candidate, history []conversation.Turn) ([]engine.Message, []retrieval.Candidate) {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\nContext:\n")

	remaining := c.MaxContextTokens
	var used []retrieval.Candidate
	for _, p := range passages {
		entry := formatPassage(p)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		remaining -= tokens
		used = append(used, p)
	}

	msgs := make([]engine.Message, 0, len(history)+2)
	msgs = append(msgs, engine.Message{Role: engine.RoleSystem, Content: sb.String()})
	for _, t := range history {
		msgs = append(msgs, engine.Message{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, engine.Message{
		Role:    engine.RoleUser,
		Content: "Question: " + question + "\nHelpful Answer:",
	})
	return msgs, used
}

func formatPassage(c retrieval.Candidate) string {
	return fmt.Sprintf("(Source: %s, page %d)\n%s\n\n", c.Passage.SourceID, c.Passage.Page, c.Passage.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
