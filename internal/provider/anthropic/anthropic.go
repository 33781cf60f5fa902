// Package anthropic implements the text-generation capability against the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/crimson-sun/watchdog/internal/engine/generator"
	"github.com/crimson-sun/watchdog/internal/provider/httpclient"
)

const (
	defaultEndpoint  = "https://api.anthropic.com"
	defaultModel     = "claude-3-haiku-20240307"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1000
)

func init() {
	generator.Register("anthropic", func(cfg generator.Config) (generator.Generator, error) {
		return New(cfg)
	})
}

// Client calls /v1/messages.
type Client struct {
	http        *httpclient.Client
	model       string
	temperature float64
	maxTokens   int
}

// New returns an Anthropic generator. An API key is required.
func New(cfg generator.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key required")
	}
	base := cfg.Endpoint
	if base == "" {
		base = defaultEndpoint
	}
	c := &Client{
		http: httpclient.New(base,
			httpclient.WithHeader("x-api-key", cfg.APIKey),
			httpclient.WithHeader("anthropic-version", apiVersion),
			httpclient.WithTimeout(cfg.Timeout),
		),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate sends prompt as a single user turn and returns the concatenated
// text blocks of the reply.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := request{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    []message{{Role: "user", Content: prompt}},
	}
	var resp response
	if err := c.http.PostJSON(ctx, "/v1/messages", req, &resp); err != nil {
		return "", fmt.Errorf("anthropic: messages: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic: messages: no text in response")
	}
	return b.String(), nil
}

func (c *Client) Close() error { return nil }
