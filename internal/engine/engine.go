package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crimson-sun/watchdog/internal/engine/normalizer"
	"github.com/crimson-sun/watchdog/internal/engine/retriever"
	"github.com/crimson-sun/watchdog/internal/engine/store"
	"github.com/crimson-sun/watchdog/internal/engine/synth"
	"github.com/crimson-sun/watchdog/internal/model"
)

// Engine orchestrates the normalize → embed → retrieve → synthesize flow.
type Engine struct {
	normalizer *normalizer.Normalizer
	store      *store.Store
	retriever  *retriever.Retriever
	synth      *synth.Synthesizer
	now        func() time.Time
}

// New creates an Engine with the provided components. The synthesizer is
// expected to read from the same retriever.
func New(norm *normalizer.Normalizer, st *store.Store, ret *retriever.Retriever, syn *synth.Synthesizer) *Engine {
	return &Engine{
		normalizer: norm,
		store:      st,
		retriever:  ret,
		synth:      syn,
		now:        time.Now,
	}
}

// Ingest normalizes raw logs and stores them in one batch. Blank lines are
// skipped. It returns the number of entries stored.
func (e *Engine) Ingest(ctx context.Context, raws []model.RawLog) (int, error) {
	entries := make([]model.LogEntry, 0, len(raws))
	for _, r := range raws {
		if entry, ok := e.normalizer.FromRaw(r); ok {
			entries = append(entries, entry)
		}
	}
	return e.store.EmbedAndStore(ctx, entries)
}

// IngestText splits a document into lines and stores them under source.
func (e *Engine) IngestText(ctx context.Context, data, source string) (int, error) {
	return e.store.EmbedAndStore(ctx, e.normalizer.ParseLines(data, source))
}

// Search returns the k stored entries most similar to query.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]model.RetrievalHit, error) {
	return e.retriever.Retrieve(ctx, query, k)
}

// AnalyzeQuery synthesizes one recommendation for query. k ≤ 0 uses the
// configured default.
func (e *Engine) AnalyzeQuery(ctx context.Context, query, analysisContext string, k int) (synth.Result, error) {
	if k <= 0 {
		k = e.retriever.DefaultK()
	}
	return e.synth.Synthesize(ctx, query, analysisContext, k)
}

// Analyze runs every request and returns the kept recommendations as
// findings attributed to source, in request order.
func (e *Engine) Analyze(ctx context.Context, source string, reqs []model.AnalysisRequest) []model.Finding {
	outcomes := e.synth.Batch(ctx, reqs)
	now := e.now()
	findings := make([]model.Finding, 0, len(outcomes))
	for _, o := range outcomes {
		findings = append(findings, NewFinding(o.Request, o.Recommendation, source, now))
	}
	return findings
}

// NewFinding wraps a recommendation with its origin.
func NewFinding(req model.AnalysisRequest, rec model.Recommendation, source string, ts time.Time) model.Finding {
	return model.Finding{
		Recommendation: rec,
		Query:          req.Query,
		Context:        req.Context,
		Source:         source,
		Timestamp:      ts,
	}
}

// Threshold is the confidence a recommendation must exceed to be kept.
func (e *Engine) Threshold() float64 { return e.synth.Threshold() }

// Stats reports the collection's size and location.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.store.Stats(ctx)
}

// Clear drops every stored entry.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("engine: clear: %w", err)
	}
	return nil
}

// Close releases the store and the synthesizer's generator.
func (e *Engine) Close() error {
	return errors.Join(e.store.Close(), e.synth.Close())
}
