package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaModel is the local chat model used when none is configured.
const DefaultOllamaModel = "llama3.2"

// OllamaProvider completes chats with a local Ollama server.
type OllamaProvider struct {
	client      *api.Client
	model       string
	temperature float64
}

// NewOllamaProvider creates a provider on an existing Ollama client.
func NewOllamaProvider(client *api.Client, model string, temperature float64) *OllamaProvider {
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaProvider{client: client, model: model, temperature: temperature}
}

// Model implements Provider.
func (p *OllamaProvider) Model() string { return p.model }

// Complete runs a non-streaming chat request.
func (p *OllamaProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": p.temperature,
		},
	}

	var b strings.Builder
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		_, err := b.WriteString(resp.Message.Content)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	return b.String(), nil
}
