package condense

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/engine"
)

type mockChatter struct {
	response string
	err      error
	delay    time.Duration
	calls    int
	got      []engine.Message
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.calls++
	m.got = messages
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func history() []conversation.Turn {
	return []conversation.Turn{
		{Role: conversation.RoleUser, Content: "What is the first-line treatment for hypertension?"},
		{Role: conversation.RoleAssistant, Content: "An ACE inhibitor or ARB for most adults under 55."},
	}
}

func TestStandalone_EmptyHistoryIsIdentity(t *testing.T) {
	mock := &mockChatter{response: "should not be used"}
	c := NewContextualizer(mock, "gpt-4o-mini")

	for _, q := range []string{"What is hypertension?", "", "  spaced  "} {
		got, err := c.Standalone(context.Background(), nil, q)
		if err != nil {
			t.Fatalf("Standalone(%q): %v", q, err)
		}
		if got != q {
			t.Errorf("Standalone(%q) = %q, want unchanged", q, got)
		}
	}
	if mock.calls != 0 {
		t.Errorf("model called %d times, want 0", mock.calls)
	}
}

func TestStandalone_RewritesWithHistory(t *testing.T) {
	mock := &mockChatter{response: "  What are the side effects of ACE inhibitors?\n"}
	c := NewContextualizer(mock, "gpt-4o-mini")

	got, err := c.Standalone(context.Background(), history(), "What are its side effects?")
	if err != nil {
		t.Fatalf("Standalone: %v", err)
	}
	if want := "What are the side effects of ACE inhibitors?"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if mock.calls != 1 {
		t.Fatalf("calls = %d, want 1", mock.calls)
	}
	user := mock.got[len(mock.got)-1].Content
	if !strings.Contains(user, "Human: What is the first-line treatment") {
		t.Errorf("prompt missing user turn: %q", user)
	}
	if !strings.Contains(user, "Follow Up Input: What are its side effects?") {
		t.Errorf("prompt missing follow-up: %q", user)
	}
}

func TestStandalone_EmptyRewriteFallsBack(t *testing.T) {
	c := NewContextualizer(&mockChatter{response: "   "}, "m")
	got, err := c.Standalone(context.Background(), history(), "and in children?")
	if err != nil {
		t.Fatalf("Standalone: %v", err)
	}
	if got != "and in children?" {
		t.Errorf("got %q, want original question", got)
	}
}

func TestStandalone_ErrorPropagates(t *testing.T) {
	boom := errors.New("backend down")
	c := NewContextualizer(&mockChatter{err: boom}, "m")
	_, err := c.Standalone(context.Background(), history(), "and in children?")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}
}

func TestStandalone_Timeout(t *testing.T) {
	c := NewContextualizer(&mockChatter{delay: time.Second}, "m").WithTimeout(20 * time.Millisecond)
	start := time.Now()
	_, err := c.Standalone(context.Background(), history(), "q")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Standalone did not honour its timeout")
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"What is X?", "What is X?"},
		{"Standalone question: What is X?", "What is X?"},
		{"\"What is X?\"", "What is X?"},
		{"standalone question: \"What is X?\"\n", "What is X?"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := clean(tt.in); got != tt.want {
			t.Errorf("clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildPrompt_Order(t *testing.T) {
	msgs := BuildPrompt(history(), "why?")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "Do not answer") {
		t.Errorf("unexpected system message: %+v", msgs[0])
	}
	body := msgs[1].Content
	human := strings.Index(body, "Human:")
	assistant := strings.Index(body, "Assistant:")
	follow := strings.Index(body, "Follow Up Input:")
	if !(human >= 0 && human < assistant && assistant < follow) {
		t.Errorf("transcript out of order: %q", body)
	}
	if !strings.HasSuffix(body, "Standalone question:") {
		t.Errorf("prompt should end with the answer cue: %q", body)
	}
}
