package model

import "time"

// Severity of a recommendation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal used for threshold comparisons:
// critical=4, high=3, medium=2, low=1, info and unknown values=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Category of a recommendation.
type Category string

const (
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
	CategoryAvailability  Category = "availability"
	CategoryCompliance    Category = "compliance"
	CategoryConfiguration Category = "configuration"
	CategoryUnknown       Category = "unknown"
)

// Timeline is the suggested remediation horizon.
type Timeline string

const (
	TimelineImmediate  Timeline = "immediate"
	TimelineShortTerm  Timeline = "short-term"
	TimelineMediumTerm Timeline = "medium-term"
	TimelineLongTerm   Timeline = "long-term"
)

// Recommendation is the structured output of synthesis. Every field is
// always populated; slices are empty rather than nil.
type Recommendation struct {
	Issue           string   `json:"issue"`
	Recommendation  string   `json:"recommendation"`
	Severity        Severity `json:"severity"`
	Confidence      float64  `json:"confidence"`
	Category        Category `json:"category"`
	AffectedSystems []string `json:"affected_systems"`
	Timeline        Timeline `json:"timeline"`
	LogEvidence     []string `json:"log_evidence"`
}

// AnalysisRequest is one question put to the synthesizer.
type AnalysisRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

// Finding is a recommendation together with where it came from. It is the
// unit written to outputs and notifiers.
type Finding struct {
	Recommendation
	Query     string    `json:"query"`
	Context   string    `json:"context,omitempty"`
	Source    string    `json:"source,omitempty"` // e.g. analyzed file name, "recent_logs"
	Timestamp time.Time `json:"timestamp"`
	Alerted   bool      `json:"alerted,omitempty"`
	Count     int       `json:"count,omitempty"` // >1 when duplicates were collapsed
}
