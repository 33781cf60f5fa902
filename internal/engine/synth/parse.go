package synth

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fastjson"

	"github.com/crimson-sun/watchdog/internal/model"
)

// Defaults for fields missing from a parsed response.
const (
	DefaultIssue          = "Unknown issue"
	DefaultRecommendation = "No recommendation provided"
	DefaultSeverity       = model.SeverityMedium
	DefaultConfidence     = 0.5
	DefaultCategory       = model.CategoryUnknown
	DefaultTimeline       = model.TimelineMediumTerm
)

// Fallback values used when a response is not a JSON object.
const (
	FallbackIssue          = "Failed to parse LLM response"
	FallbackRecommendation = "Review logs manually for potential issues"
	FallbackConfidence     = 0.1
	fallbackEvidenceLen    = 200
)

// ParseRecommendation turns a raw generation response into a
// Recommendation. The bool is false when the response could not be parsed
// and the fallback recommendation was returned instead.
func ParseRecommendation(raw string) (model.Recommendation, bool) {
	var p fastjson.Parser
	v, err := p.Parse(stripFence(raw))
	if err != nil {
		return Fallback(raw), false
	}
	obj, err := v.Object()
	if err != nil {
		return Fallback(raw), false
	}

	return model.Recommendation{
		Issue:           stringField(obj, "issue", DefaultIssue),
		Recommendation:  stringField(obj, "recommendation", DefaultRecommendation),
		Severity:        severity(stringField(obj, "severity", "")),
		Confidence:      confidence(obj.Get("confidence")),
		Category:        category(stringField(obj, "category", "")),
		AffectedSystems: stringList(obj.Get("affected_systems")),
		Timeline:        timeline(stringField(obj, "timeline", "")),
		LogEvidence:     stringList(obj.Get("log_evidence")),
	}, true
}

// Fallback is the degraded recommendation for an unparseable response. Its
// single evidence entry is the first 200 characters of raw, with "..."
// appended when cut.
func Fallback(raw string) model.Recommendation {
	evidence := raw
	if utf8.RuneCountInString(raw) > fallbackEvidenceLen {
		evidence = string([]rune(raw)[:fallbackEvidenceLen]) + "..."
	}
	return model.Recommendation{
		Issue:           FallbackIssue,
		Recommendation:  FallbackRecommendation,
		Severity:        model.SeverityLow,
		Confidence:      FallbackConfidence,
		Category:        model.CategoryUnknown,
		AffectedSystems: []string{},
		Timeline:        model.TimelineMediumTerm,
		LogEvidence:     []string{evidence},
	}
}

// stripFence removes a surrounding ``` or ```json code fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// stringField returns obj[key] as a string. Missing or null values yield
// def; other non-string values yield their JSON text.
func stringField(obj *fastjson.Object, key, def string) string {
	v := obj.Get(key)
	if v == nil || v.Type() == fastjson.TypeNull {
		return def
	}
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}

func normalized(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func severity(s string) model.Severity {
	switch sev := model.Severity(normalized(s)); sev {
	case model.SeverityInfo, model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
		return sev
	}
	return DefaultSeverity
}

func category(s string) model.Category {
	switch c := model.Category(normalized(s)); c {
	case model.CategorySecurity, model.CategoryPerformance, model.CategoryAvailability,
		model.CategoryCompliance, model.CategoryConfiguration, model.CategoryUnknown:
		return c
	}
	return DefaultCategory
}

func timeline(s string) model.Timeline {
	switch tl := model.Timeline(normalized(s)); tl {
	case model.TimelineImmediate, model.TimelineShortTerm, model.TimelineMediumTerm, model.TimelineLongTerm:
		return tl
	}
	return DefaultTimeline
}

// confidence accepts a number or a numeric string and clamps to [0,1].
func confidence(v *fastjson.Value) float64 {
	if v == nil {
		return DefaultConfidence
	}
	var f float64
	switch v.Type() {
	case fastjson.TypeNumber:
		f = v.GetFloat64()
	case fastjson.TypeString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(v.GetStringBytes())), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	default:
		return DefaultConfidence
	}
	if math.IsNaN(f) {
		return DefaultConfidence
	}
	return min(max(f, 0), 1)
}

// stringList converts a JSON array to strings; anything else is empty.
func stringList(v *fastjson.Value) []string {
	out := []string{}
	if v == nil || v.Type() != fastjson.TypeArray {
		return out
	}
	for _, item := range v.GetArray() {
		if item.Type() == fastjson.TypeString {
			out = append(out, string(item.GetStringBytes()))
		} else {
			out = append(out, item.String())
		}
	}
	return out
}
