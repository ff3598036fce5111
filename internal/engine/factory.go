package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/docqa/internal/openai"
)

// Provider selects the model backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// ParseProvider maps a config string to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOpenAI, ProviderOllama:
		return p, nil
	case "":
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown engine provider %q (want %q or %q)", s, ProviderOpenAI, ProviderOllama)
	}
}

// Config holds the parameters needed to build an Engine.
type Config struct {
	Provider          Provider
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// New builds the Engine for cfg.Provider.
func New(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaEngine(cfg.BaseURL, cfg.Timeout), nil
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		c := openai.NewClient(cfg.APIKey,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithTimeout(cfg.Timeout),
			openai.WithRateLimit(cfg.RequestsPerSecond),
		)
		return NewOpenAIEngine(c), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
