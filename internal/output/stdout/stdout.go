// Package stdout writes findings as JSON lines.
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
)

// Output writes JSON-encoded findings to a writer, os.Stdout by default.
type Output struct {
	mu        sync.Mutex
	enc       *json.Encoder
	verbosity output.Verbosity
	closed    bool
}

// New creates a stdout Output with verbosity-aware evidence trimming and
// optional pretty-printed JSON. A nil w writes to os.Stdout.
func New(w io.Writer, verbosity output.Verbosity, pretty bool) *Output {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Output{enc: enc, verbosity: verbosity}
}

func (o *Output) Name() string { return "stdout" }

func (o *Output) Write(_ context.Context, f model.Finding) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return output.ErrClosed
	}
	if err := o.enc.Encode(output.FormatFinding(f, o.verbosity)); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

// WriteSummary encodes the run summary with findings trimmed like Write.
func (o *Output) WriteSummary(_ context.Context, s output.Summary) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return output.ErrClosed
	}
	trimmed := s
	trimmed.Findings = make([]model.Finding, len(s.Findings))
	for i, f := range s.Findings {
		trimmed.Findings[i] = output.FormatFinding(f, o.verbosity)
	}
	if err := o.enc.Encode(trimmed); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}
