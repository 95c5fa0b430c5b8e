package adapter

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

// Claude is the interface for Claude API client
type Claude interface {
	// Chat sends one Messages API request and returns the response
	Chat(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// claudeClient implements Claude interface
type claudeClient struct {
	client *anthropic.Client
}

// ClaudeOption is a functional option for Claude client
type ClaudeOption func(*[]option.RequestOption)

// WithClaudeBaseURL points the client at another endpoint, such as a proxy
func WithClaudeBaseURL(url string) ClaudeOption {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// WithClaudeMaxRetries sets SDK-level retries for transient HTTP failures
func WithClaudeMaxRetries(n int) ClaudeOption {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithMaxRetries(n))
	}
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string, opts ...ClaudeOption) (Claude, error) {
	if apiKey == "" {
		return nil, goerr.New("anthropic-api-key is required")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(&reqOpts)
	}

	client := anthropic.NewClient(reqOpts...)
	return &claudeClient{
		client: &client,
	}, nil
}

func (c *claudeClient) Chat(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call Claude messages API", goerr.V("model", params.Model))
	}
	return msg, nil
}
