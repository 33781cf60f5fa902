package alert

import (
	"context"
	"log/slog"

	"github.com/crimson-sun/watchdog/internal/metrics"
	"github.com/crimson-sun/watchdog/internal/model"
)

// Notifier delivers a finding to an external channel. Every output.Output
// satisfies it.
type Notifier interface {
	Write(ctx context.Context, f model.Finding) error
}

// Dispatcher sends gated findings to a notifier.
type Dispatcher struct {
	policy   Policy
	notifier Notifier
}

// NewDispatcher returns a Dispatcher. A nil notifier disables delivery.
func NewDispatcher(p Policy, n Notifier) *Dispatcher {
	return &Dispatcher{policy: p, notifier: n}
}

// Policy returns the dispatcher's policy.
func (d *Dispatcher) Policy() Policy { return d.policy }

// Dispatch notifies about f when it passes ShouldAlert and the minimum
// severity. It reports whether delivery happened.
func (d *Dispatcher) Dispatch(ctx context.Context, f model.Finding) bool {
	if d.notifier == nil {
		return false
	}
	if !ShouldAlert(f.Recommendation, d.policy) || f.Severity.Rank() < d.policy.MinSeverity.Rank() {
		metrics.Alerts.WithLabelValues("suppressed").Inc()
		return false
	}

	f.Alerted = true
	if err := d.notifier.Write(ctx, f); err != nil {
		metrics.Alerts.WithLabelValues("failed").Inc()
		slog.Warn("alert delivery failed", "issue", f.Issue, "severity", f.Severity, "delivered", false, "error", err)
		return false
	}
	metrics.Alerts.WithLabelValues("delivered").Inc()
	slog.Info("alert sent", "issue", f.Issue, "severity", f.Severity, "source", f.Source, "delivered", true)
	return true
}
