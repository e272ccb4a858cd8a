// Package app builds the service graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/chat"
	"github.com/bull/pdfchat/internal/chunker"
	"github.com/bull/pdfchat/internal/config"
	"github.com/bull/pdfchat/internal/embedding"
	"github.com/bull/pdfchat/internal/extract"
	"github.com/bull/pdfchat/internal/httpapi"
	"github.com/bull/pdfchat/internal/index"
	"github.com/bull/pdfchat/internal/ingest"
	"github.com/bull/pdfchat/internal/llm"
	mcpserver "github.com/bull/pdfchat/internal/mcp"
	"github.com/bull/pdfchat/internal/memory"
	"github.com/bull/pdfchat/internal/storage"
)

// App owns every long-lived component.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Index    *index.Index
	Pipeline *ingest.Pipeline
	Composer *chat.Composer
	MCP      *mcpserver.Server
	API      *httpapi.API

	store  storage.VectorStore
	redis  *redis.Client
	health map[string]mcpserver.HealthChecker
}

// New connects to the configured backends and wires the components. On error every
// resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, health: map[string]mcpserver.HealthChecker{}}
	defer func() {
		if err != nil {
			a.closeBackends()
		}
	}()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	a.store, err = newVectorStore(ctx, cfg, embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	a.health["vector_store"] = a.store

	mem, err := a.newMemory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	ch, err := chunker.New(chunker.Options{
		Size:      cfg.Chunker.Size,
		Overlap:   cfg.Chunker.Overlap,
		Separator: cfg.Chunker.Separator,
	})
	if err != nil {
		return nil, err
	}

	a.Index = index.New(embedder, a.store, index.Options{
		EmbedTimeout: cfg.EmbedTimeout(),
		Logger:       logger.Named("index"),
	})
	a.Pipeline = ingest.NewPipeline(extract.New(), ch, a.Index, ingest.Options{
		Workers: cfg.Ingest.Workers,
		Logger:  logger.Named("ingest"),
	})
	a.Composer = chat.New(a.Index, mem, provider, chat.Options{
		TopK:    cfg.TopK,
		Timeout: cfg.LLMTimeout(),
		Logger:  logger.Named("chat"),
	})
	a.MCP = mcpserver.NewServer(&mcpserver.Config{
		Composer: a.Composer,
		Pipeline: a.Pipeline,
		Index:    a.Index,
		Logger:   logger.Named("mcp"),
	})
	a.API = httpapi.New(&httpapi.Config{
		Composer:       a.Composer,
		Pipeline:       a.Pipeline,
		Index:          a.Index,
		Logger:         logger.Named("http"),
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})

	logger.Info("components ready",
		zap.String("embedding", cfg.Embedding.Provider+"/"+embedder.Model()),
		zap.String("llm", cfg.LLM.Provider+"/"+provider.Model()),
		zap.String("vector_store", cfg.VectorStore.Backend),
		zap.String("memory", cfg.Memory.Backend))
	return a, nil
}

// Handler returns the HTTP surface: REST routes, metrics, MCP over HTTP, health and
// the landing page.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.API.Register(mux)
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(a.MCP, nil))
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(a.health))
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	return mux
}

// Close drains background ingestion within ctx, then releases the backends.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pipeline != nil {
		if err := a.Pipeline.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain ingestion: %w", err))
		}
	}
	if err := a.closeBackends(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeBackends() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	c := cfg.Embedding
	switch c.Provider {
	case config.ProviderOllama:
		return embedding.NewOllamaEmbedder(c.BaseURL, c.Model, c.Dimension)
	default:
		client, err := embedding.NewClient(c.APIKey, c.BaseURL)
		if err != nil {
			return nil, err
		}
		return embedding.NewOpenAIEmbedder(client, c.Model, c.Dimension, c.BatchSize), nil
	}
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	c := cfg.LLM
	switch c.Provider {
	case config.ProviderOllama:
		client, err := embedding.NewOllamaClient(c.BaseURL)
		if err != nil {
			return nil, err
		}
		return llm.NewOllamaProvider(client, c.Model, c.Temperature), nil
	default:
		client, err := embedding.NewClient(c.APIKey, c.BaseURL)
		if err != nil {
			return nil, err
		}
		return llm.NewOpenAIProvider(client.Client(), c.Model, c.Temperature), nil
	}
}

func newVectorStore(ctx context.Context, cfg *config.Config, dimension int) (storage.VectorStore, error) {
	vs := cfg.VectorStore
	switch vs.Backend {
	case config.BackendQdrant:
		s, err := storage.NewQdrantStorage(vs.Qdrant.Host, vs.Qdrant.Port, vs.Collection, dimension)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureCollection(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.BackendMilvus:
		s, err := storage.NewMilvusStorage(ctx, storage.MilvusOptions{
			Address:    vs.Milvus.Address,
			Username:   vs.Milvus.Username,
			Password:   vs.Milvus.Password,
			Database:   vs.Milvus.Database,
			Collection: vs.Collection,
			Dimension:  dimension,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureCollection(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := storage.NewPostgresStorage(ctx, vs.Postgres.DSN, vs.Postgres.Table, dimension)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return storage.NewMemoryStore(dimension)
	}
}

func (a *App) newMemory(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	budget := memory.Budget{Limit: cfg.Memory.Budget, Unit: memory.Unit(cfg.Memory.Unit)}
	if cfg.Memory.Backend != config.BackendRedis {
		return memory.NewLocal(budget)
	}

	rc := cfg.Memory.Redis
	a.redis = redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	store, err := memory.NewRedisStore(ctx, a.redis, budget, memory.RedisOptions{
		Prefix: rc.Prefix,
		TTL:    cfg.SessionTTL(),
	})
	if err != nil {
		return nil, err
	}
	a.health["memory"] = store
	return store, nil
}
