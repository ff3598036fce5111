package engine

import "testing"

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"openai", ProviderOpenAI, false},
		{"OLLAMA", ProviderOllama, false},
		{"", ProviderOpenAI, false},
		{"mlx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProvider(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProvider(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_Ollama(t *testing.T) {
	e, err := New(Config{Provider: ProviderOllama, BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("New returned %T, want *OllamaEngine", e)
	}
}

func TestNew_OpenAIRequiresKey(t *testing.T) {
	if _, err := New(Config{Provider: ProviderOpenAI}); err == nil {
		t.Fatal("expected error without API key")
	}
	e, err := New(Config{Provider: ProviderOpenAI, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Errorf("New returned %T, want *OpenAIEngine", e)
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New(Config{Provider: "bogus"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
