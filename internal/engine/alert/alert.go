// Package alert decides whether a recommendation is worth notifying about
// and delivers the ones that are.
package alert

import "github.com/crimson-sun/watchdog/internal/model"

// Policy holds the alert thresholds.
type Policy struct {
	MinConfidence float64
	// MinSeverity is enforced by Dispatcher after ShouldAlert. It can only
	// narrow what the gate lets through.
	MinSeverity model.Severity
}

// DefaultPolicy is confidence >= 0.5 and severity >= medium.
func DefaultPolicy() Policy {
	return Policy{MinConfidence: 0.5, MinSeverity: model.SeverityMedium}
}

// ShouldAlert applies the gate in order: low confidence never alerts; high
// and critical always do; medium alerts only for security findings.
// Medium compliance findings deliberately do not alert.
func ShouldAlert(rec model.Recommendation, p Policy) bool {
	if rec.Confidence < p.MinConfidence {
		return false
	}
	switch rec.Severity {
	case model.SeverityHigh, model.SeverityCritical:
		return true
	case model.SeverityMedium:
		return rec.Category == model.CategorySecurity
	}
	return false
}
