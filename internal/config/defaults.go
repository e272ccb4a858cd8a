package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendQdrant   = "qdrant"
	BackendMilvus   = "milvus"
	BackendPostgres = "postgres"

	ModeHTTP  = "http"
	ModeStdio = "stdio"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var embeddingDefaults = map[string]struct {
	model     string
	dimension int
}{
	ProviderOpenAI: {"text-embedding-3-small", 1536},
	ProviderOllama: {"nomic-embed-text", 768},
}

var llmDefaultModels = map[string]string{
	ProviderOpenAI: "gpt-4o-mini",
	ProviderOllama: "llama3.2",
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	setStr(&cfg.Env, "production")
	setStr(&cfg.LogLevel, "info")

	setInt(&cfg.Server.Port, 8080)
	setStr(&cfg.Server.Mode, ModeHTTP)
	// Accept the SERVER_MODE=true/false convention as well.
	switch strings.ToLower(cfg.Server.Mode) {
	case "true":
		cfg.Server.Mode = ModeHTTP
	case "false":
		cfg.Server.Mode = ModeStdio
	}
	setInt(&cfg.Server.ShutdownTimeoutSecs, 30)
	setInt(&cfg.Server.MaxUploadMB, 50)

	setStr(&cfg.Embedding.Provider, ProviderOpenAI)
	if d, ok := embeddingDefaults[cfg.Embedding.Provider]; ok {
		setStr(&cfg.Embedding.Model, d.model)
		setInt(&cfg.Embedding.Dimension, d.dimension)
	}
	setInt(&cfg.Embedding.BatchSize, 500)
	setInt(&cfg.Embedding.TimeoutSecs, 30)

	setStr(&cfg.LLM.Provider, ProviderOpenAI)
	setStr(&cfg.LLM.Model, llmDefaultModels[cfg.LLM.Provider])
	setInt(&cfg.LLM.TimeoutSecs, 60)
	// Reuse the embedding key for the same provider.
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider == cfg.Embedding.Provider {
		cfg.LLM.APIKey = cfg.Embedding.APIKey
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == cfg.Embedding.Provider {
		cfg.LLM.BaseURL = cfg.Embedding.BaseURL
	}

	setInt(&cfg.Chunker.Size, 1000)
	setInt(&cfg.Chunker.Overlap, 200)
	setStr(&cfg.Chunker.Separator, "\n")
	setInt(&cfg.TopK, 5)

	setStr(&cfg.Memory.Backend, BackendMemory)
	setInt(&cfg.Memory.Budget, 3000)
	setStr(&cfg.Memory.Unit, "tokens")
	setStr(&cfg.Memory.Redis.Addr, "localhost:6379")
	setStr(&cfg.Memory.Redis.Prefix, "pdfchat:session:")
	setInt(&cfg.Memory.Redis.TTLHours, 7*24)

	setStr(&cfg.VectorStore.Backend, BackendMemory)
	setStr(&cfg.VectorStore.Collection, "pdfchat_chunks")
	setStr(&cfg.VectorStore.Qdrant.Host, "localhost")
	setInt(&cfg.VectorStore.Qdrant.Port, 6334)
	setStr(&cfg.VectorStore.Milvus.Address, "localhost:19530")
	setStr(&cfg.VectorStore.Postgres.Table, cfg.VectorStore.Collection)

	setInt(&cfg.Ingest.Workers, 4)
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if _, ok := embeddingDefaults[c.Embedding.Provider]; !ok {
		return invalid("embedding provider %q (want openai or ollama)", c.Embedding.Provider)
	}
	if _, ok := llmDefaultModels[c.LLM.Provider]; !ok {
		return invalid("llm provider %q (want openai or ollama)", c.LLM.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return invalid("embedding dimension must be positive")
	}
	if c.Embedding.TimeoutSecs <= 0 || c.LLM.TimeoutSecs <= 0 {
		return invalid("timeouts must be positive")
	}
	if c.Chunker.Size <= 0 || c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return invalid("chunk size %d with overlap %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	if c.TopK <= 0 {
		return invalid("top_k must be positive")
	}
	if c.Memory.Budget <= 0 {
		return invalid("memory budget must be positive")
	}
	if c.Memory.Unit != "chars" && c.Memory.Unit != "tokens" {
		return invalid("memory unit %q (want chars or tokens)", c.Memory.Unit)
	}
	switch c.Memory.Backend {
	case BackendMemory, BackendRedis:
	default:
		return invalid("memory backend %q (want memory or redis)", c.Memory.Backend)
	}
	switch c.VectorStore.Backend {
	case BackendMemory, BackendQdrant, BackendMilvus:
	case BackendPostgres:
		if c.VectorStore.Postgres.DSN == "" {
			return invalid("postgres vector store requires a dsn")
		}
	default:
		return invalid("vector store %q (want memory, qdrant, milvus or postgres)", c.VectorStore.Backend)
	}
	switch c.Server.Mode {
	case ModeHTTP, ModeStdio:
	default:
		return invalid("server mode %q (want http or stdio)", c.Server.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("port %d", c.Server.Port)
	}
	if c.Ingest.Workers <= 0 {
		return invalid("ingest workers must be positive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func setStr(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}
