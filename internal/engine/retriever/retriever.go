// Package retriever turns an operator question into the most relevant
// stored log entries.
package retriever

import (
	"context"
	"log/slog"

	"github.com/crimson-sun/watchdog/internal/model"
)

// DefaultK is used when no default is configured.
const DefaultK = 5

// Searcher is satisfied by *store.Store.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]model.RetrievalHit, error)
}

// Retriever is a thin layer over the store that owns the default k.
type Retriever struct {
	store    Searcher
	defaultK int
}

// New creates a Retriever. defaultK <= 0 falls back to DefaultK.
func New(s Searcher, defaultK int) *Retriever {
	if defaultK <= 0 {
		defaultK = DefaultK
	}
	return &Retriever{store: s, defaultK: defaultK}
}

// Retrieve returns up to k hits ordered by decreasing similarity.
// k <= 0 returns nothing without touching the store.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]model.RetrievalHit, error) {
	if k <= 0 {
		return []model.RetrievalHit{}, nil
	}
	hits, err := r.store.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	slog.Debug("retrieved", "query", query, "k", k, "hits", len(hits))
	return hits, nil
}

// RetrieveDefault is Retrieve with the configured default k.
func (r *Retriever) RetrieveDefault(ctx context.Context, query string) ([]model.RetrievalHit, error) {
	return r.Retrieve(ctx, query, r.defaultK)
}

// DefaultK returns the configured default k.
func (r *Retriever) DefaultK() int { return r.defaultK }
