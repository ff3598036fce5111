package condense

import (
	"strings"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/engine"
)

const systemPrompt = `You rewrite follow-up questions. Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Rules:
- Resolve pronouns and references using the conversation.
- Do not answer the question.
- If the follow up question is already standalone, return it unchanged.
- Output only the standalone question, with no preamble.`

// BuildPrompt constructs the chat messages for the rewrite: the system
// instructions, then the conversation rendered as a transcript, then the
// follow-up question.
func BuildPrompt(history []conversation.Turn, question string) []engine.Message {
	var sb strings.Builder
	sb.WriteString("Chat History:\n")
	for _, t := range history {
		switch t.Role {
		case conversation.RoleUser:
			sb.WriteString("Human: ")
		default:
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("Follow Up Input: ")
	sb.WriteString(question)
	sb.WriteString("\nStandalone question:")

	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: sb.String()},
	}
}
