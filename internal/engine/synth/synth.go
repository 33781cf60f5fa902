// Package synth turns retrieved log entries into a structured
// recommendation by prompting a text generator and parsing its reply.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crimson-sun/watchdog/internal/engine/generator"
	"github.com/crimson-sun/watchdog/internal/metrics"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/telemetry"
)

// Defaults applied by New.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultThreshold   = 0.3
	DefaultConcurrency = 4
	DefaultK           = 5
)

// Reason classifies synthesis failures.
type Reason string

const (
	ReasonUnavailable      Reason = "capability-unavailable"
	ReasonGenerationFailed Reason = "generation-failed"
)

// SynthesisError reports an infrastructure failure. Unparseable responses
// are never errors; they produce the fallback recommendation.
type SynthesisError struct {
	Reason Reason
	Err    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: %s: %v", e.Reason, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Status tags the outcome of a successful synthesis.
type Status int

const (
	// StatusNoMatches means retrieval found nothing; there is no recommendation.
	StatusNoMatches Status = iota
	// StatusRecommended means Recommendation is set.
	StatusRecommended
)

func (s Status) String() string {
	if s == StatusRecommended {
		return "recommended"
	}
	return "no_matches"
}

// Result is the outcome of Synthesize.
type Result struct {
	Status         Status
	Recommendation model.Recommendation
	Degraded       bool // the response was unparseable and Recommendation is the fallback
	Hits           []model.RetrievalHit
}

// Retriever is satisfied by *retriever.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]model.RetrievalHit, error)
}

// Synthesizer owns the prompt, the generator and the batch policy.
type Synthesizer struct {
	retriever   Retriever
	gen         generator.Generator
	timeout     time.Duration
	threshold   float64
	concurrency int
	defaultK    int
	tracer      trace.Tracer
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithThreshold sets the batch inclusion threshold (confidence must exceed it).
func WithThreshold(t float64) Option {
	return func(s *Synthesizer) { s.threshold = t }
}

// WithConcurrency caps parallel syntheses in Batch.
func WithConcurrency(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithDefaultK sets the k used by Batch.
func WithDefaultK(k int) Option {
	return func(s *Synthesizer) {
		if k > 0 {
			s.defaultK = k
		}
	}
}

// New creates a Synthesizer.
func New(r Retriever, gen generator.Generator, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		retriever:   r,
		gen:         gen,
		timeout:     DefaultTimeout,
		threshold:   DefaultThreshold,
		concurrency: DefaultConcurrency,
		defaultK:    DefaultK,
		tracer:      telemetry.Tracer("synth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the generator.
func (s *Synthesizer) Close() error { return s.gen.Close() }

// Threshold returns the batch inclusion threshold.
func (s *Synthesizer) Threshold() float64 { return s.threshold }

// Synthesize retrieves up to k hits for query and asks the generator for a
// recommendation. No hits is a successful StatusNoMatches result.
func (s *Synthesizer) Synthesize(ctx context.Context, query, analysisContext string, k int) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "synth.Synthesize", trace.WithAttributes(
		attribute.String("query", query),
		attribute.Int("k", k),
	))
	defer span.End()

	res, err := s.synthesize(ctx, query, analysisContext, k)
	switch {
	case err != nil:
		metrics.Syntheses.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Status == StatusNoMatches:
		metrics.Syntheses.WithLabelValues("no_matches").Inc()
	case res.Degraded:
		metrics.Syntheses.WithLabelValues("degraded").Inc()
	default:
		metrics.Syntheses.WithLabelValues("recommended").Inc()
	}
	span.SetAttributes(attribute.String("status", res.Status.String()), attribute.Bool("degraded", res.Degraded))
	return res, err
}

func (s *Synthesizer) synthesize(ctx context.Context, query, analysisContext string, k int) (Result, error) {
	hits, err := s.retriever.Retrieve(ctx, query, k)
	if err != nil {
		return Result{}, &SynthesisError{Reason: ReasonUnavailable, Err: err}
	}
	if len(hits) == 0 {
		slog.Info("no relevant logs", "query", query)
		return Result{Status: StatusNoMatches}, nil
	}

	prompt := BuildPrompt(analysisContext, hits)
	slog.Debug("prompting generator", "query", query, "hits", len(hits), "prompt_tokens", EstimateTokens(prompt))

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	raw, err := s.gen.Generate(gctx, prompt)
	metrics.Observe("generate", start)
	if err != nil {
		reason := ReasonGenerationFailed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonUnavailable
		}
		return Result{}, &SynthesisError{Reason: reason, Err: err}
	}

	rec, ok := ParseRecommendation(raw)
	if !ok {
		slog.Warn("unparseable generator response, using fallback", "query", query)
	}
	return Result{Status: StatusRecommended, Recommendation: rec, Degraded: !ok, Hits: hits}, nil
}
