// Package llm generates chat completions from an external language model.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message sent to the model.
type Message struct {
	Role    string
	Content string
}

// Provider produces one completion for an ordered list of messages.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Model() string
}

var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*OllamaProvider)(nil)
)
