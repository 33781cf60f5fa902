// Package multi fans findings out to several outputs.
package multi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/crimson-sun/watchdog/internal/metrics"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
)

// Multi fans out findings to multiple output.Output implementations.
// Each Write call delivers the finding to every wrapped output sequentially.
// If one output fails, the remaining outputs still receive the finding.
type Multi struct {
	outputs []output.Output
}

// New creates a Multi that fans out to the given outputs.
func New(outputs ...output.Output) *Multi {
	return &Multi{outputs: outputs}
}

func (m *Multi) Name() string { return "multi" }

// Len reports how many outputs are wrapped.
func (m *Multi) Len() int { return len(m.outputs) }

// Write delivers the finding to every wrapped output. Errors are collected
// but do not prevent delivery to subsequent outputs.
func (m *Multi) Write(ctx context.Context, f model.Finding) error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Write(ctx, f); err != nil {
			metrics.OutputErrors.WithLabelValues(output.Name(o)).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteSummary forwards the summary to every output that can render one.
func (m *Multi) WriteSummary(ctx context.Context, s output.Summary) error {
	var errs []error
	for _, o := range m.outputs {
		sum, ok := o.(output.Summarizer)
		if !ok {
			continue
		}
		if err := sum.WriteSummary(ctx, s); err != nil {
			slog.Warn("summary write failed", "output", output.Name(o), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped output, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
