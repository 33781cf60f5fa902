package synth

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/watchdog/internal/model"
)

// Outcome is one recommendation kept by Batch, with the request it answers.
type Outcome struct {
	Request        model.AnalysisRequest
	Recommendation model.Recommendation
	Degraded       bool
}

// Omission causes logged by Batch.
const (
	causeNoMatches      = "no_matches"
	causeBelowThreshold = "below_threshold"
	causeFailure        = "failure"
)

// Batch synthesizes every request independently and concurrently with the
// default k. It returns the outcomes whose confidence exceeds the threshold,
// in request order. Omitted requests are logged with their cause.
func (s *Synthesizer) Batch(ctx context.Context, reqs []model.AnalysisRequest) []Outcome {
	results := make([]*Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Synthesize(ctx, req.Query, req.Context, s.defaultK)
			switch {
			case err != nil:
				slog.Warn("analysis omitted", "query", req.Query, "cause", causeFailure, "error", err)
			case res.Status == StatusNoMatches:
				slog.Info("analysis omitted", "query", req.Query, "cause", causeNoMatches)
			case res.Recommendation.Confidence <= s.threshold:
				slog.Info("analysis omitted", "query", req.Query, "cause", causeBelowThreshold,
					"confidence", res.Recommendation.Confidence, "threshold", s.threshold)
			default:
				results[i] = &Outcome{Request: req, Recommendation: res.Recommendation, Degraded: res.Degraded}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Outcome, 0, len(reqs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// SynthesizeMany is Batch without request attribution.
func (s *Synthesizer) SynthesizeMany(ctx context.Context, reqs []model.AnalysisRequest) []model.Recommendation {
	outcomes := s.Batch(ctx, reqs)
	recs := make([]model.Recommendation, len(outcomes))
	for i, o := range outcomes {
		recs[i] = o.Recommendation
	}
	return recs
}
