// Package openai implements the embedding and text-generation capabilities
// against the OpenAI HTTP API.
package openai

import (
	"context"
	"fmt"
	"sort"

	"github.com/crimson-sun/watchdog/internal/engine/embedder"
	"github.com/crimson-sun/watchdog/internal/engine/generator"
	"github.com/crimson-sun/watchdog/internal/provider/httpclient"
)

const (
	defaultEndpoint       = "https://api.openai.com"
	defaultEmbeddingModel = "text-embedding-ada-002"
	defaultChatModel      = "gpt-4o-mini"
	embeddingRetries      = 2
)

func init() {
	embedder.Register("openai", func(cfg embedder.Config) (embedder.Embedder, error) {
		return NewEmbedder(cfg)
	})
	generator.Register("openai", func(cfg generator.Config) (generator.Generator, error) {
		return NewChat(cfg)
	})
}

// Embedder calls /v1/embeddings.
type Embedder struct {
	client *httpclient.Client
	model  string
}

// NewEmbedder returns an OpenAI embedder. An API key is required.
func NewEmbedder(cfg embedder.Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{
		client: httpclient.New(endpoint(cfg.Endpoint),
			httpclient.WithBearer(cfg.APIKey),
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(embeddingRetries),
		),
		model: model,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request, returned in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embeddingResponse
	if err := e.client.PostJSON(ctx, "/v1/embeddings", embeddingRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *Embedder) Close() error { return nil }

// Chat calls /v1/chat/completions with a single user message.
type Chat struct {
	client      *httpclient.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewChat returns an OpenAI text generator. An API key is required.
func NewChat(cfg generator.Config) (*Chat, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultChatModel
	}
	return &Chat{
		client: httpclient.New(endpoint(cfg.Endpoint),
			httpclient.WithBearer(cfg.APIKey),
			httpclient.WithTimeout(cfg.Timeout),
		),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *Chat) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp chatResponse
	if err := c.client.PostJSON(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("openai: chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: chat: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Chat) Close() error { return nil }

func endpoint(e string) string {
	if e == "" {
		return defaultEndpoint
	}
	return e
}
