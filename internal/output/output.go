// Package output defines destinations for findings.
package output

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/crimson-sun/watchdog/internal/model"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("output: closed")

// Output defines the interface for finding destinations.
type Output interface {
	Write(ctx context.Context, f model.Finding) error
	Close() error
}

// Summarizer is implemented by outputs that can render a whole run.
type Summarizer interface {
	WriteSummary(ctx context.Context, s Summary) error
}

// Summary describes one analysis run.
type Summary struct {
	Source    string          `json:"source"`
	TotalLogs int             `json:"total_logs"`
	Findings  []model.Finding `json:"findings"`
	Alerts    int             `json:"alerts_sent"`
	Timestamp time.Time       `json:"timestamp"`
}

// SeverityCounts tallies findings by severity.
func (s Summary) SeverityCounts() map[model.Severity]int {
	counts := make(map[model.Severity]int)
	for _, f := range s.Findings {
		counts[f.Severity]++
	}
	return counts
}

// Ranked returns the findings ordered by severity, most severe first.
// Ties keep their original order.
func (s Summary) Ranked() []model.Finding {
	out := append([]model.Finding(nil), s.Findings...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// Name returns o's name for logs and metrics.
func Name(o Output) string {
	if n, ok := o.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}
