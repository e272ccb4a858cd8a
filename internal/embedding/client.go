package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI client shared by embedding and chat completion.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client. apiKey is required; baseURL is optional and points the
// client at an OpenAI-compatible endpoint. The SDK's own retries are disabled so callers keep
// control over backoff.
func NewClient(apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	// Pass the key explicitly instead of letting openai-go read OPENAI_API_KEY, so the
	// config file and environment resolve it the same way.
	// Retries are handled by the embedder's rate limit backoff, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}

	// Optional OpenAI-compatible endpoint (proxy, Azure gateway, local server)
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., llm).
func (c *Client) Client() *openai.Client {
	return c.client
}
