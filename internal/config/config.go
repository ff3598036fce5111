package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Documents DocumentsConfig
	Ingest    IngestConfig
	Engine    EngineConfig
	Retrieval RetrievalConfig
	Reranking RerankingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir    string
	DBName     string
	Collection string
	Dimension  int
}

type DocumentsConfig struct {
	Dir       string
	UploadDir string
	Pattern   string
}

type IngestConfig struct {
	Processor    string
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Dedup        bool
}

type EngineConfig struct {
	Provider          string
	BaseURL           string
	ChatModel         string
	EmbedModel        string
	RequestsPerSecond float64
	Timeout           time.Duration
	APIKey            string
}

type RetrievalConfig struct {
	TopK          int
	DenseWeight   float64
	LexicalWeight float64
}

type RerankingConfig struct {
	Mode    string
	TopN    int
	Timeout time.Duration
	URL     string
	Model   string
}

type LogConfig struct {
	Level string
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://localhost:11434"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8000},
		Storage: StorageConfig{
			DataDir:    defaultDataDir(),
			DBName:     "chatbot",
			Collection: "nice_guidelines",
			Dimension:  1536,
		},
		Documents: DocumentsConfig{Pattern: "**/*.pdf"},
		Ingest: IngestConfig{
			Processor:    "naive",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			BatchSize:    64,
		},
		Engine: EngineConfig{
			Provider:          "openai",
			ChatModel:         "gpt-4o-mini",
			EmbedModel:        "text-embedding-3-small",
			RequestsPerSecond: 5,
			Timeout:           60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			DenseWeight:   0.8,
			LexicalWeight: 0.2,
		},
		Reranking: RerankingConfig{
			Mode:    "llm",
			TopN:    3,
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/docqa/config.yaml, then applies DOCQA_* environment
// overrides. Secrets not set in the environment are read from
// $XDG_DATA_HOME/docqa/secrets.yaml.
//
// Load does not require the API key; call Validate before talking to a
// model backend.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), newSecretsFile(secretsFilePath()))
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}
	// The conventional variable is honoured last.
	if cfg.Engine.APIKey == "" {
		cfg.Engine.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg.resolve()
	return cfg, nil
}

// resolve fills settings derived from other settings.
func (cfg *Config) resolve() {
	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = filepath.Join(cfg.Storage.DataDir, "documents")
	}
	if cfg.Documents.UploadDir == "" {
		cfg.Documents.UploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}
	if cfg.Engine.BaseURL == "" {
		if cfg.Engine.Provider == "ollama" {
			cfg.Engine.BaseURL = defaultOllamaBaseURL
		} else {
			cfg.Engine.BaseURL = defaultOpenAIBaseURL
		}
	}
}

// Validate reports settings that would make the service fail at runtime.
func (cfg Config) Validate() error {
	if cfg.Engine.Provider == "openai" && cfg.Engine.APIKey == "" {
		return fmt.Errorf("missing required config: OpenAI API key. "+
			"Set it via environment variable DOCQA_OPENAI_API_KEY (or OPENAI_API_KEY) "+
			"or engine.api_key in %s", secretsFilePath())
	}
	if cfg.Ingest.ChunkSize <= 0 || cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("invalid chunking: size %d, overlap %d (need 0 <= overlap < size)",
			cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Storage.Dimension <= 0 {
		return fmt.Errorf("storage.dimension must be positive, got %d", cfg.Storage.Dimension)
	}
	if cfg.Retrieval.DenseWeight < 0 || cfg.Retrieval.LexicalWeight < 0 {
		return fmt.Errorf("retrieval weights must not be negative")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "docqa-data"
		}
	}
	return filepath.Join(dir, "docqa")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "docqa", "config.yaml")
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "docqa", "secrets.yaml")
}
