// Package async decouples finding producers from slow outputs.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/watchdog/internal/metrics"
	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: counts the failure and logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write return immediately (dropping the finding) when
// the buffer is full, instead of blocking.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// WithDrainTimeout bounds how long Close waits for buffered findings.
// Default: 5s.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// item is a queued finding or, when summary is set, a queued run summary.
type item struct {
	finding model.Finding
	summary *output.Summary
}

// Async decouples finding production from consumption via a buffered
// channel. A background goroutine drains it to the wrapped output. Errors
// from the inner output are passed to errFunc rather than propagated.
type Async struct {
	inner        output.Output
	ch           chan item
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	dropOnFull   bool
	drainTimeout time.Duration

	mu     sync.RWMutex // guards closed and sends on ch
	closed bool
}

// New wraps an output.Output in an async channel-based writer.
// The background drain goroutine starts immediately.
func New(inner output.Output, opts ...Option) *Async {
	name := output.Name(inner)
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc: func(err error) {
			metrics.OutputErrors.WithLabelValues(name).Inc()
			slog.Warn("async output write error", "output", name, "error", err)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan item, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

func (a *Async) Name() string { return "async(" + output.Name(a.inner) + ")" }

// Write queues the finding. By default it blocks while the buffer is full;
// with WithDropOnFull the finding is dropped instead.
func (a *Async) Write(_ context.Context, f model.Finding) error {
	return a.enqueue(item{finding: f})
}

// WriteSummary queues the summary behind any pending findings. It is a
// no-op when the inner output cannot render summaries.
func (a *Async) WriteSummary(_ context.Context, s output.Summary) error {
	if _, ok := a.inner.(output.Summarizer); !ok {
		return nil
	}
	return a.enqueue(item{summary: &s})
}

func (a *Async) enqueue(it item) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return output.ErrClosed
	}
	if a.dropOnFull {
		select {
		case a.ch <- it:
		default:
			slog.Warn("async output buffer full, dropping finding",
				"output", output.Name(a.inner), "issue", it.finding.Issue)
		}
		return nil
	}
	a.ch <- it
	return nil
}

// Close closes the channel, waits for the drain goroutine to finish
// (with a timeout), then closes the inner output.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(a.drainTimeout):
		slog.Warn("async output drain timed out", "output", output.Name(a.inner))
	}
	return a.inner.Close()
}

// drain reads items from the channel and writes them to the inner output.
func (a *Async) drain() {
	defer close(a.done)
	for it := range a.ch {
		var err error
		if it.summary != nil {
			err = a.inner.(output.Summarizer).WriteSummary(context.Background(), *it.summary)
		} else {
			err = a.inner.Write(context.Background(), it.finding)
		}
		if err != nil {
			a.errFunc(err)
		}
	}
}
