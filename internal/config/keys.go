package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DOCQA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "DOCQA_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCQA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.db_name", typ: kString, env: "DOCQA_DB_NAME",
		apply:   func(cfg *Config, v any) { cfg.Storage.DBName = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DBName },
	},
	{
		key: "storage.collection", typ: kString, env: "DOCQA_COLLECTION_NAME",
		apply:   func(cfg *Config, v any) { cfg.Storage.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Collection },
	},
	{
		key: "storage.dimension", typ: kInt, env: "DOCQA_STORAGE_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Storage.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.Dimension },
	},
	{
		key: "documents.dir", typ: kString, env: "DOCQA_DOCUMENT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Documents.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Documents.Dir },
	},
	{
		key: "documents.upload_dir", typ: kString, env: "DOCQA_UPLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Documents.UploadDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Documents.UploadDir },
	},
	{
		key: "documents.pattern", typ: kString, env: "DOCQA_DOCUMENTS_PATTERN",
		apply:   func(cfg *Config, v any) { cfg.Documents.Pattern = v.(string) },
		extract: func(cfg Config) any { return cfg.Documents.Pattern },
	},
	{
		key: "ingest.processor", typ: kString, env: "DOCQA_INGEST_PROCESSOR",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Processor = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Processor },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "DOCQA_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "DOCQA_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "ingest.batch_size", typ: kInt, env: "DOCQA_INGEST_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchSize },
	},
	{
		key: "ingest.dedup", typ: kBool, env: "DOCQA_INGEST_DEDUP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Dedup = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ingest.Dedup },
	},
	{
		key: "engine.provider", typ: kString, env: "DOCQA_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.base_url", typ: kString, env: "DOCQA_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.chat_model", typ: kString, env: "DOCQA_ENGINE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "DOCQA_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.requests_per_second", typ: kFloat, env: "DOCQA_ENGINE_RPS",
		apply:   func(cfg *Config, v any) { cfg.Engine.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.RequestsPerSecond },
	},
	{
		key: "engine.timeout", typ: kDuration, env: "DOCQA_ENGINE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engine.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Engine.Timeout },
	},
	{
		key: "engine.api_key", typ: kString, env: "DOCQA_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Engine.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.APIKey },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "DOCQA_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.dense_weight", typ: kFloat, env: "DOCQA_RETRIEVAL_DENSE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.DenseWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.DenseWeight },
	},
	{
		key: "retrieval.lexical_weight", typ: kFloat, env: "DOCQA_RETRIEVAL_LEXICAL_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.LexicalWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.LexicalWeight },
	},
	{
		key: "reranking.mode", typ: kString, env: "DOCQA_RERANKING_MODE",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Reranking.Mode },
	},
	{
		key: "reranking.top_n", typ: kInt, env: "DOCQA_RERANKING_TOP_N",
		apply:   func(cfg *Config, v any) { cfg.Reranking.TopN = v.(int) },
		extract: func(cfg Config) any { return cfg.Reranking.TopN },
	},
	{
		key: "reranking.timeout", typ: kDuration, env: "DOCQA_RERANKING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reranking.Timeout },
	},
	{
		key: "reranking.url", typ: kString, env: "DOCQA_RERANKING_URL",
		apply:   func(cfg *Config, v any) { cfg.Reranking.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reranking.URL },
	},
	{
		key: "reranking.model", typ: kString, env: "DOCQA_RERANKING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Reranking.Model },
	},
	{
		key: "log.level", typ: kString, env: "DOCQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
