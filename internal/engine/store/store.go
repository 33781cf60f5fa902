// Package store embeds normalized log entries and answers similarity
// queries over them. A Store pairs one Embedder with one Collection; both
// the write and the query path must use the same embedding space.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crimson-sun/watchdog/internal/engine/embedder"
	"github.com/crimson-sun/watchdog/internal/metrics"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/telemetry"
)

// DefaultTimeout bounds every embedder and collection call.
const DefaultTimeout = 30 * time.Second

// Stats describes the backing collection.
type Stats struct {
	Count    int    `json:"total_logs"`
	Name     string `json:"collection_name"`
	Location string `json:"persist_directory"`
}

// Store is the embedding store.
type Store struct {
	emb     embedder.Embedder
	coll    Collection
	timeout time.Duration
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Store over emb and coll.
func New(emb embedder.Embedder, coll Collection, opts ...Option) *Store {
	s := &Store{
		emb:     emb,
		coll:    coll,
		timeout: DefaultTimeout,
		tracer:  telemetry.Tracer("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedAndStore embeds every entry's SearchableText in one batch and stores
// the vectors with flattened metadata. Either all entries are stored or none
// are. It returns the number stored.
func (s *Store) EmbedAndStore(ctx context.Context, entries []model.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	ctx, span := s.tracer.Start(ctx, "store.EmbedAndStore",
		trace.WithAttributes(attribute.Int("entries", len(entries))))
	defer span.End()

	n, err := s.embedAndStore(ctx, entries)
	if err != nil {
		var ee *EmbedError
		if errors.As(err, &ee) {
			metrics.EmbedFailures.WithLabelValues(string(ee.Reason)).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	for _, e := range entries {
		metrics.EntriesIngested.WithLabelValues(e.Source).Inc()
	}
	slog.Debug("entries stored", "count", n, "collection", s.coll.Name())
	return n, nil
}

func (s *Store) embedAndStore(ctx context.Context, entries []model.LogEntry) (int, error) {
	seen := make(map[string]struct{}, len(entries))
	texts := make([]string, len(entries))
	for i, e := range entries {
		switch {
		case e.ID == "":
			return 0, &EmbedError{Reason: ReasonMalformed, Err: fmt.Errorf("entry %d has no id", i)}
		case strings.TrimSpace(e.SearchableText) == "":
			return 0, &EmbedError{Reason: ReasonMalformed, Err: fmt.Errorf("entry %s has no searchable text", e.ID)}
		}
		if _, dup := seen[e.ID]; dup {
			return 0, &EmbedError{Reason: ReasonMalformed, Err: fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)}
		}
		seen[e.ID] = struct{}{}
		texts[i] = e.SearchableText
	}

	vecs, err := s.embed(ctx, texts)
	if err != nil {
		return 0, &EmbedError{Reason: ReasonUnavailable, Err: err}
	}
	if len(vecs) != len(entries) {
		return 0, &EmbedError{Reason: ReasonMalformed,
			Err: fmt.Errorf("embedder returned %d vectors for %d entries", len(vecs), len(entries))}
	}

	stored := make([]model.StoredVector, len(entries))
	for i, e := range entries {
		stored[i] = model.StoredVector{
			ID:        e.ID,
			Embedding: vecs[i],
			Document:  e.SearchableText,
			Metadata:  FlattenMetadata(e),
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err = s.coll.Add(cctx, stored)
	metrics.Observe("collection", start)
	if err != nil {
		if errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrInvalidMetadata) {
			return 0, &EmbedError{Reason: ReasonMalformed, Err: err}
		}
		return 0, &EmbedError{Reason: ReasonUnavailable, Err: err}
	}
	return len(stored), nil
}

func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	defer metrics.Observe("embed", start)
	return s.emb.EmbedBatch(ctx, texts)
}

// Query returns up to k stored entries most similar to text, most similar
// first. An empty store or k <= 0 yields an empty result, not an error.
func (s *Store) Query(ctx context.Context, text string, k int) ([]model.RetrievalHit, error) {
	if k <= 0 {
		return []model.RetrievalHit{}, nil
	}
	ctx, span := s.tracer.Start(ctx, "store.Query", trace.WithAttributes(attribute.Int("k", k)))
	defer span.End()

	hits, err := s.query(ctx, text, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	metrics.QueryHits.Observe(float64(len(hits)))
	return hits, nil
}

func (s *Store) query(ctx context.Context, text string, k int) ([]model.RetrievalHit, error) {
	n, err := s.count(ctx)
	if err != nil {
		return nil, &QueryError{Reason: ReasonUnavailable, Err: err}
	}
	if n == 0 {
		return []model.RetrievalHit{}, nil
	}

	vecs, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, &QueryError{Reason: ReasonUnavailable, Err: err}
	}
	if len(vecs) != 1 {
		return nil, &QueryError{Reason: ReasonUnavailable,
			Err: fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))}
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	matches, err := s.coll.Query(cctx, vecs[0], k)
	metrics.Observe("collection", start)
	if err != nil {
		return nil, &QueryError{Reason: ReasonUnavailable, Err: err}
	}

	hits := make([]model.RetrievalHit, len(matches))
	for i, m := range matches {
		hits[i] = model.RetrievalHit{
			ID:         m.ID,
			Document:   m.Document,
			Metadata:   m.Metadata,
			Similarity: similarity(m.Distance),
		}
	}
	return hits, nil
}

func similarity(distance float64) float64 {
	return min(max(1-distance, 0), 1)
}

func (s *Store) count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.coll.Count(ctx)
}

// Stats reports the collection size, name and location.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.count(ctx)
	if err != nil {
		return Stats{}, &QueryError{Reason: ReasonUnavailable, Err: err}
	}
	return Stats{Count: n, Name: s.coll.Name(), Location: s.coll.Location()}, nil
}

// Clear deletes every stored entry and recreates the collection under the
// same name.
func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.coll.Reset(ctx); err != nil {
		return fmt.Errorf("store: clear %s: %w", s.coll.Name(), err)
	}
	slog.Info("collection cleared", "collection", s.coll.Name())
	return nil
}

// Close releases the embedder and the collection.
func (s *Store) Close() error {
	return errors.Join(s.emb.Close(), s.coll.Close())
}
