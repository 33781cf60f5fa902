// Package dedup collapses repeated findings so one recurring issue does not
// flood outputs and notifiers.
package dedup

import (
	"strings"
	"time"

	"github.com/crimson-sun/watchdog/internal/model"
)

// DefaultWindow is the grouping window used when Config.Window is zero.
const DefaultWindow = 10 * time.Minute

// Config controls deduplication behavior.
type Config struct {
	Window time.Duration
}

// Deduplicator merges findings with the same category and issue whose
// timestamps fall within Window of the group's first finding.
type Deduplicator struct {
	window time.Duration
}

// New creates a Deduplicator.
func New(cfg Config) *Deduplicator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Deduplicator{window: cfg.Window}
}

// Key identifies findings that describe the same issue.
func Key(f model.Finding) string {
	return string(f.Category) + "|" + strings.ToLower(strings.Join(strings.Fields(f.Issue), " "))
}

type group struct {
	finding model.Finding
	first   time.Time
	count   int
}

// Collapse returns findings in first-occurrence order. A merged finding
// keeps the strongest severity and confidence, the union of affected
// systems and evidence, and Count set to the group size.
func (d *Deduplicator) Collapse(findings []model.Finding) []model.Finding {
	if len(findings) == 0 {
		return nil
	}

	var order []*group
	open := make(map[string]*group)
	for _, f := range findings {
		key := Key(f)
		if g, ok := open[key]; ok && f.Timestamp.Sub(g.first) <= d.window {
			g.count++
			merge(&g.finding, f)
			continue
		}
		g := &group{finding: f, first: f.Timestamp, count: 1}
		open[key] = g
		order = append(order, g)
	}

	out := make([]model.Finding, 0, len(order))
	for _, g := range order {
		f := g.finding
		if g.count > 1 {
			f.Count = g.count
		}
		out = append(out, f)
	}
	return out
}

func merge(dst *model.Finding, src model.Finding) {
	if src.Severity.Rank() > dst.Severity.Rank() {
		dst.Severity = src.Severity
	}
	dst.Confidence = max(dst.Confidence, src.Confidence)
	dst.Alerted = dst.Alerted || src.Alerted
	dst.AffectedSystems = union(dst.AffectedSystems, src.AffectedSystems)
	dst.LogEvidence = union(dst.LogEvidence, src.LogEvidence)
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
