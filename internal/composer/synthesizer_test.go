package composer

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/retrieval"
)

type mockChatter struct {
	response string
	err      error
	calls    int
	got      []engine.Message
}

func (m *mockChatter) Chat(_ context.Context, _ string, messages []engine.Message, _ *engine.Schema) (string, error) {
	m.calls++
	m.got = messages
	return m.response, m.err
}

func TestAnswer_GroundedWithSources(t *testing.T) {
	mock := &mockChatter{response: "  Blood pressure of 140/90 mmHg or higher.  "}
	s := NewSynthesizer(mock, "gpt-4o-mini", nil)

	ans, err := s.Answer(context.Background(), "What is hypertension?", []retrieval.Candidate{
		cand("ng136.pdf", 3, "Hypertension is clinic blood pressure of 140/90 mmHg or higher."),
		cand("ng136.pdf", 3, "Confirm with ambulatory monitoring."),
		cand("ng136.pdf", 4, "Offer lifestyle advice."),
	}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != "Blood pressure of 140/90 mmHg or higher." {
		t.Errorf("Text = %q", ans.Text)
	}
	want := []Source{{"ng136.pdf", 3}, {"ng136.pdf", 4}}
	if !reflect.DeepEqual(ans.Sources, want) {
		t.Errorf("Sources = %+v, want %+v", ans.Sources, want)
	}
}

func TestAnswer_NoPassagesDeclines(t *testing.T) {
	mock := &mockChatter{response: "made up"}
	s := NewSynthesizer(mock, "m", nil)

	ans, err := s.Answer(context.Background(), "What is the capital of Mars?", nil, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != NoAnswer {
		t.Errorf("Text = %q, want %q", ans.Text, NoAnswer)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("Sources = %+v, want none", ans.Sources)
	}
	if mock.calls != 0 {
		t.Errorf("model called %d times, want 0", mock.calls)
	}
}

func TestAnswer_ModelError(t *testing.T) {
	boom := errors.New("503")
	s := NewSynthesizer(&mockChatter{err: boom}, "m", nil)
	_, err := s.Answer(context.Background(), "q", []retrieval.Candidate{cand("a.pdf", 0, "x")}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}
}

func TestAnswer_EmptyResponseIsError(t *testing.T) {
	s := NewSynthesizer(&mockChatter{response: "\n "}, "m", nil)
	if _, err := s.Answer(context.Background(), "q", []retrieval.Candidate{cand("a.pdf", 0, "x")}, nil); err == nil {
		t.Fatal("expected error for empty model response")
	}
}

func TestAnswer_SourcesOnlyFromPromptedPassages(t *testing.T) {
	mock := &mockChatter{response: "ok"}
	s := NewSynthesizer(mock, "m", New(40))
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'z'
	}
	ans, err := s.Answer(context.Background(), "q", []retrieval.Candidate{
		cand("huge.pdf", 0, string(long)),
		cand("tiny.pdf", 2, "fits"),
	}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if want := []Source{{"tiny.pdf", 2}}; !reflect.DeepEqual(ans.Sources, want) {
		t.Errorf("Sources = %+v, want %+v", ans.Sources, want)
	}
}

func TestDedupSources(t *testing.T) {
	tests := []struct {
		name string
		in   []retrieval.Candidate
		want []Source
	}{
		{"empty", nil, []Source{}},
		{"distinct pages", []retrieval.Candidate{cand("a", 1, "x"), cand("a", 2, "y")}, []Source{{"a", 1}, {"a", 2}}},
		{"same page twice", []retrieval.Candidate{cand("a", 1, "x"), cand("b", 0, "z"), cand("a", 1, "y")}, []Source{{"a", 1}, {"b", 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DedupSources(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DedupSources = %+v, want %+v", got, tt.want)
			}
		})
	}
}
