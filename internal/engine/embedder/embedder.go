// Package embedder defines the embedding capability and its local ONNX
// implementation. Remote providers register themselves from
// internal/provider/*.
package embedder

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Embedder produces vector embeddings from text. Store and query paths must
// use the same Embedder (same model and version) so vectors share a space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// Config holds provider settings resolved from configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	Endpoint string
	ModelDir string // onnx: directory with model.onnx, vocab.txt, libonnxruntime.so
	Timeout  time.Duration
}

// Constructor builds an Embedder from configuration.
type Constructor func(cfg Config) (Embedder, error)

var registry = map[string]Constructor{}

// Register adds an embedding provider under the given name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Open resolves cfg.Provider and builds the embedder.
func Open(cfg Config) (Embedder, error) {
	ctor, ok := registry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	return ctor(cfg)
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
