// Package config loads the service configuration from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP and MCP transports.
type ServerConfig struct {
	Port int `yaml:"port"`
	// Mode is "http" (REST, MCP over HTTP, health) or "stdio" (MCP over stdin/stdout with
	// the HTTP endpoints in the background).
	Mode                string `yaml:"mode"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
	MaxUploadMB         int    `yaml:"max_upload_mb"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Dimension   int    `yaml:"dimension"`
	BatchSize   int    `yaml:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig selects and configures the language model.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// ChunkerConfig configures how extracted text is split. Sizes are in characters.
type ChunkerConfig struct {
	Size      int    `yaml:"size"`
	Overlap   int    `yaml:"overlap"`
	Separator string `yaml:"separator"`
}

// RedisConfig contains connection details for the Redis memory backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	TTLHours int    `yaml:"ttl_hours"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	Backend string      `yaml:"backend"`
	Budget  int         `yaml:"budget"`
	Unit    string      `yaml:"unit"`
	Redis   RedisConfig `yaml:"redis"`
}

// QdrantConfig contains connection details for Qdrant.
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MilvusConfig contains connection details for Milvus.
type MilvusConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains connection details for PostgreSQL with pgvector.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// VectorStoreConfig selects and configures the vector store.
type VectorStoreConfig struct {
	Backend    string         `yaml:"backend"`
	Collection string         `yaml:"collection"`
	Qdrant     QdrantConfig   `yaml:"qdrant"`
	Milvus     MilvusConfig   `yaml:"milvus"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

// GitHubConfig configures the repository synced by "pdfchat sync".
type GitHubConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Ref   string `yaml:"ref"`
	Path  string `yaml:"path"`
}

// Config is the root configuration.
type Config struct {
	Env         string            `yaml:"env"`
	LogLevel    string            `yaml:"log_level"`
	Server      ServerConfig      `yaml:"server"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	TopK        int               `yaml:"top_k"`
	Memory      MemoryConfig      `yaml:"memory"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	GitHub      GitHubConfig      `yaml:"github"`
}

// IngestConfig configures background ingestion.
type IngestConfig struct {
	Workers int `yaml:"workers"`
}

// Load reads path (if non-empty and present), applies environment overrides, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EmbedTimeout returns the embedding call timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSecs) * time.Second
}

// LLMTimeout returns the generation call timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSecs) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
}

// SessionTTL returns how long idle Redis sessions are kept.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Memory.Redis.TTLHours) * time.Hour
}

// Save writes the config as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides file values with set environment variables.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"ENV":                &cfg.Env,
		"LOG_LEVEL":          &cfg.LogLevel,
		"SERVER_MODE":        &cfg.Server.Mode,
		"EMBEDDING_PROVIDER": &cfg.Embedding.Provider,
		"EMBEDDING_MODEL":    &cfg.Embedding.Model,
		"EMBEDDING_BASE_URL": &cfg.Embedding.BaseURL,
		"OPENAI_API_KEY":     &cfg.Embedding.APIKey,
		"LLM_PROVIDER":       &cfg.LLM.Provider,
		"LLM_MODEL":          &cfg.LLM.Model,
		"LLM_BASE_URL":       &cfg.LLM.BaseURL,
		"LLM_API_KEY":        &cfg.LLM.APIKey,
		"CHUNK_SEPARATOR":    &cfg.Chunker.Separator,
		"MEMORY_BACKEND":     &cfg.Memory.Backend,
		"MEMORY_UNIT":        &cfg.Memory.Unit,
		"REDIS_ADDR":         &cfg.Memory.Redis.Addr,
		"REDIS_PASSWORD":     &cfg.Memory.Redis.Password,
		"VECTOR_STORE":       &cfg.VectorStore.Backend,
		"VECTOR_COLLECTION":  &cfg.VectorStore.Collection,
		"QDRANT_HOST":        &cfg.VectorStore.Qdrant.Host,
		"MILVUS_ADDRESS":     &cfg.VectorStore.Milvus.Address,
		"MILVUS_USERNAME":    &cfg.VectorStore.Milvus.Username,
		"MILVUS_PASSWORD":    &cfg.VectorStore.Milvus.Password,
		"MILVUS_DATABASE":    &cfg.VectorStore.Milvus.Database,
		"POSTGRES_DSN":       &cfg.VectorStore.Postgres.DSN,
		"POSTGRES_TABLE":     &cfg.VectorStore.Postgres.Table,
		"GITHUB_TOKEN":       &cfg.GitHub.Token,
		"GITHUB_OWNER":       &cfg.GitHub.Owner,
		"GITHUB_REPO":        &cfg.GitHub.Repo,
		"GITHUB_REF":         &cfg.GitHub.Ref,
		"GITHUB_PATH":        &cfg.GitHub.Path,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                   &cfg.Server.Port,
		"SHUTDOWN_TIMEOUT_SECS":  &cfg.Server.ShutdownTimeoutSecs,
		"MAX_UPLOAD_MB":          &cfg.Server.MaxUploadMB,
		"EMBEDDING_DIMENSION":    &cfg.Embedding.Dimension,
		"EMBEDDING_BATCH_SIZE":   &cfg.Embedding.BatchSize,
		"EMBEDDING_TIMEOUT_SECS": &cfg.Embedding.TimeoutSecs,
		"LLM_TIMEOUT_SECS":       &cfg.LLM.TimeoutSecs,
		"CHUNK_SIZE":             &cfg.Chunker.Size,
		"CHUNK_OVERLAP":          &cfg.Chunker.Overlap,
		"TOP_K":                  &cfg.TopK,
		"MEMORY_BUDGET":          &cfg.Memory.Budget,
		"REDIS_DB":               &cfg.Memory.Redis.DB,
		"QDRANT_PORT":            &cfg.VectorStore.Qdrant.Port,
		"INGEST_WORKERS":         &cfg.Ingest.Workers,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", key, v)
		}
		*dst = n
	}

	if v, ok := lookup("LLM_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LLM_TEMPERATURE: %q is not a number", v)
		}
		cfg.LLM.Temperature = f
	}
	return nil
}
