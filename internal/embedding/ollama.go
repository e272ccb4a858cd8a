package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

const (
	// DefaultOllamaModel is a small local embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaDimension is the vector dimension of nomic-embed-text.
	DefaultOllamaDimension = 768
)

// OllamaEmbedder generates embeddings with a local Ollama server.
type OllamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
}

// NewOllamaEmbedder creates an embedder for the Ollama server at host. An empty host uses
// OLLAMA_HOST or the Ollama default.
func NewOllamaEmbedder(host, model string, dimension int) (*OllamaEmbedder, error) {
	client, err := NewOllamaClient(host)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimension <= 0 {
		dimension = DefaultOllamaDimension
	}
	return &OllamaEmbedder{client: client, model: model, dimension: dimension}, nil
}

// NewOllamaClient builds an Ollama API client for host.
func NewOllamaClient(host string) (*api.Client, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
		}
		hostURL = u
	}
	return api.NewClient(hostURL, http.DefaultClient), nil
}

// Dimension implements Embedder.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

// Model implements Embedder.
func (e *OllamaEmbedder) Model() string { return e.model }

// Embed sends all texts in a single embed request.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	for i, v := range resp.Embeddings {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), e.dimension)
		}
	}
	return resp.Embeddings, nil
}
