package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	models    []string
	modelsErr error
	chats     int
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	m.chats++
	return "pong", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
func (m *mockEngine) Models(_ context.Context) ([]string, error) { return m.models, m.modelsErr }

// pullingEngine can also download models.
type pullingEngine struct {
	mockEngine
	pulled  []string
	pullErr error
}

func (m *pullingEngine) Pull(_ context.Context, model string, cb func(PullProgress)) error {
	if m.pullErr != nil {
		return m.pullErr
	}
	m.pulled = append(m.pulled, model)
	if cb != nil {
		cb(PullProgress{Status: "downloading", Total: 10, Completed: 5})
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &pullingEngine{mockEngine: mockEngine{models: []string{"llama3.2:latest", "nomic-embed-text:latest"}}}
	if err := EnsureReady(context.Background(), m, "llama3.2", "nomic-embed-text", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
	if m.chats != 1 {
		t.Errorf("expected one warm-up chat, got %d", m.chats)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &pullingEngine{mockEngine: mockEngine{models: []string{"llama3.2:latest"}}}
	var out strings.Builder
	if err := EnsureReady(context.Background(), m, "llama3.2", "nomic-embed-text", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "nomic-embed-text" {
		t.Errorf("expected pull of nomic-embed-text, got %v", m.pulled)
	}
	if !strings.Contains(out.String(), "downloading 50%") {
		t.Errorf("progress output = %q, want a percentage line", out.String())
	}
}

func TestEnsureReady_SameModelCheckedOnce(t *testing.T) {
	m := &pullingEngine{}
	if err := EnsureReady(context.Background(), m, "qwen3", "qwen3", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 {
		t.Errorf("pulled %v, want qwen3 once", m.pulled)
	}
}

func TestEnsureReady_MissingWithoutPuller(t *testing.T) {
	m := &mockEngine{models: []string{"gpt-4o-mini"}}
	err := EnsureReady(context.Background(), m, "gpt-4o-mini", "text-embedding-3-small", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "text-embedding-3-small") {
		t.Fatalf("err = %v, want missing model error", err)
	}
}

func TestEnsureReady_ExactNameDoesNotMatchPrefix(t *testing.T) {
	m := &mockEngine{models: []string{"gpt-4o-mini"}}
	if err := EnsureReady(context.Background(), m, "gpt-4o", "", io.Discard); err == nil {
		t.Fatal("gpt-4o must not match gpt-4o-mini")
	}
}

func TestEnsureReady_PullFails(t *testing.T) {
	m := &pullingEngine{pullErr: errors.New("disk full")}
	if err := EnsureReady(context.Background(), m, "llama3.2", "", io.Discard); err == nil {
		t.Fatal("expected error when pull fails")
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{modelsErr: errors.New("connection refused")}
	err := EnsureReady(context.Background(), m, "llama3.2", "nomic-embed-text", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want unreachable error", err)
	}
	if m.chats != 0 {
		t.Error("no warm-up expected when the backend is down")
	}
}

func TestPullProgress_Percent(t *testing.T) {
	if got := (PullProgress{Total: 200, Completed: 50}).Percent(); got != 25 {
		t.Errorf("Percent = %v, want 25", got)
	}
	if got := (PullProgress{Status: "verifying"}).Percent(); got != -1 {
		t.Errorf("Percent without total = %v, want -1", got)
	}
}
