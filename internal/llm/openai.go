package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider completes chats with the OpenAI chat completions API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAIProvider creates a provider on an existing OpenAI client. An empty model uses
// DefaultOpenAIModel.
func NewOpenAIProvider(client *openai.Client, model string, temperature float64) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIProvider{client: client, model: model, temperature: temperature}
}

// Model implements Provider.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete sends messages as one chat completion request and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
		Model:       openai.ChatModel(p.model),
		Temperature: openai.Float(p.temperature),
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
