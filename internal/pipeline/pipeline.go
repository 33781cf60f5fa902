// Package pipeline wires connectors, the engine, outputs and the alert
// dispatcher into ingestion and analysis runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/watchdog/internal/connector"
	"github.com/crimson-sun/watchdog/internal/engine/alert"
	"github.com/crimson-sun/watchdog/internal/engine/dedup"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
)

const (
	defaultBatchSize    = 1000
	defaultBufferWindow = 2 * time.Second
	defaultBufferMax    = 500
)

// Engine is the part of *engine.Engine the pipeline drives.
type Engine interface {
	Ingest(ctx context.Context, raws []model.RawLog) (int, error)
	Analyze(ctx context.Context, source string, reqs []model.AnalysisRequest) []model.Finding
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDedup collapses repeated findings before they are written.
func WithDedup(d *dedup.Deduplicator) Option {
	return func(p *Pipeline) { p.dedup = d }
}

// WithAlerts routes every finding through the dispatcher before output.
func WithAlerts(d *alert.Dispatcher) Option {
	return func(p *Pipeline) { p.alerts = d }
}

// WithBatchSize sets how many entries are embedded per store call during
// Ingest. Default: 1000.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithStreamBuffer sets how long and how many streamed logs are held before
// they are stored. Defaults: 2s, 500.
func WithStreamBuffer(window time.Duration, maxSize int) Option {
	return func(p *Pipeline) {
		if window > 0 {
			p.bufferWindow = window
		}
		p.bufferMax = maxSize
	}
}

// Pipeline connects a connector, engine, and output into a processing pipeline.
type Pipeline struct {
	engine       Engine
	output       output.Output
	dedup        *dedup.Deduplicator
	alerts       *alert.Dispatcher
	batchSize    int
	bufferWindow time.Duration
	bufferMax    int
	skipped      atomic.Int64
	now          func() time.Time
}

// New creates a Pipeline from the given components.
func New(eng Engine, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine:       eng,
		output:       out,
		batchSize:    defaultBatchSize,
		bufferWindow: defaultBufferWindow,
		bufferMax:    defaultBufferMax,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Skipped reports how many streamed logs were dropped because their batch
// could not be stored.
func (p *Pipeline) Skipped() int64 { return p.skipped.Load() }

// Ingest reads logs from the connector and stores them in batches. It
// returns the number stored before any failure.
func (p *Pipeline) Ingest(ctx context.Context, conn connector.Connector, cfg connector.ConnectorConfig, params connector.QueryParams) (int, error) {
	raws, err := conn.Query(ctx, cfg, params)
	if err != nil {
		return 0, fmt.Errorf("pipeline query: %w", err)
	}

	stored := 0
	for start := 0; start < len(raws); start += p.batchSize {
		end := min(start+p.batchSize, len(raws))
		n, err := p.engine.Ingest(ctx, raws[start:end])
		if err != nil {
			return stored, fmt.Errorf("pipeline ingest: %w", err)
		}
		stored += n
	}
	slog.Info("ingest complete", "connector", cfg.Provider, "read", len(raws), "stored", stored)
	return stored, nil
}

// Stream stores logs as the connector emits them, batching by time and
// size. A batch that fails to store is logged and skipped. Blocks until the
// connector closes its channel or ctx is cancelled; pending logs are stored
// before returning.
func (p *Pipeline) Stream(ctx context.Context, conn connector.Connector, cfg connector.ConnectorConfig) (int, error) {
	ch, err := conn.Stream(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("pipeline stream: %w", err)
	}

	buf := newStreamBuffer(p.bufferWindow, p.bufferMax)
	stored := 0
	flush := func(ctx context.Context) {
		stored += p.flush(ctx, buf.drain())
	}

	for {
		select {
		case <-ctx.Done():
			// Store what is pending even though the caller is done.
			flush(context.WithoutCancel(ctx))
			return stored, ctx.Err()
		case <-buf.flushCh():
			flush(ctx)
		case raw, ok := <-ch:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return stored, ctx.Err()
			}
			if buf.add(raw) {
				flush(ctx)
			}
		}
	}
}

func (p *Pipeline) flush(ctx context.Context, raws []model.RawLog) int {
	if len(raws) == 0 {
		return 0
	}
	n, err := p.engine.Ingest(ctx, raws)
	if err != nil {
		p.skipped.Add(int64(len(raws)))
		slog.Warn("skipping streamed batch", "count", len(raws), "error", err)
		return 0
	}
	return n
}

// Analyze runs reqs against the stored logs. Findings are deduplicated,
// offered to the alert dispatcher, written to the output, and summarized.
// Output failures do not stop the run; they are joined into the error.
func (p *Pipeline) Analyze(ctx context.Context, source string, totalLogs int, reqs []model.AnalysisRequest) (output.Summary, error) {
	findings := p.engine.Analyze(ctx, source, reqs)
	if p.dedup != nil {
		findings = p.dedup.Collapse(findings)
	}

	summary := output.Summary{
		Source:    source,
		TotalLogs: totalLogs,
		Findings:  make([]model.Finding, 0, len(findings)),
		Timestamp: p.now(),
	}

	var errs []error
	for _, f := range findings {
		if p.alerts != nil && p.alerts.Dispatch(ctx, f) {
			f.Alerted = true
			summary.Alerts++
		}
		summary.Findings = append(summary.Findings, f)
		if err := p.output.Write(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}

	if s, ok := p.output.(output.Summarizer); ok {
		if err := s.WriteSummary(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("analysis complete", "source", source, "queries", len(reqs),
		"findings", len(summary.Findings), "alerts", summary.Alerts)
	if err := errors.Join(errs...); err != nil {
		return summary, fmt.Errorf("pipeline output: %w", err)
	}
	return summary, nil
}

// Close shuts down the output.
func (p *Pipeline) Close() error {
	return p.output.Close()
}
