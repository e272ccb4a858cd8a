package github

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting support
type Client struct {
	*github.Client
}

// NewClient creates a GitHub client that waits out primary and secondary rate limits.
// A non-empty token authenticates the client for higher limits.
func NewClient(token string) (*Client, error) {
	// Create rate limit handler with default configuration
	// This handles both primary rate limits (5000 req/hour authenticated, 60 unauthenticated)
	// and secondary rate limits (abuse detection) with automatic retry
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	// Create GitHub client with rate limiting
	ghClient := github.NewClient(rateLimiter)

	// If a token is configured, use authenticated client for higher rate limits
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &Client{Client: ghClient}, nil
}

// WithBaseURL points the client at a different API root, such as GitHub Enterprise.
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	// go-github resolves request paths relative to BaseURL, which must end in a slash
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub base URL: %w", err)
	}
	c.Client.BaseURL = u
	return c, nil
}
