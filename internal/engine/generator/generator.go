// Package generator defines the text-generation capability used to turn a
// prompt into a recommendation. Providers register themselves from
// internal/provider/*.
package generator

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Generator produces a completion for a prompt. Implementations make exactly
// one upstream call per Generate and never retry.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// Config holds provider settings resolved from configuration.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	Endpoint    string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Constructor builds a Generator from configuration.
type Constructor func(cfg Config) (Generator, error)

var registry = map[string]Constructor{}

// Register adds a generation provider under the given name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Open resolves cfg.Provider and builds the generator.
func Open(cfg Config) (Generator, error) {
	ctor, ok := registry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
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

// Func adapts a function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

func (f Func) Close() error { return nil }
