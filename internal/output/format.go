package output

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/crimson-sun/watchdog/internal/model"
)

// Verbosity controls how much evidence a finding carries when written.
type Verbosity int

const (
	Minimal  Verbosity = iota // drop log evidence
	Standard                  // keep the first few evidence lines, truncated
	Full                      // retain everything
)

const (
	standardEvidenceLines = 3
	standardEvidenceRunes = 200
)

// ParseVerbosity maps "minimal", "standard" and "full" to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return Minimal, nil
	case "standard", "":
		return Standard, nil
	case "full":
		return Full, nil
	default:
		return Standard, fmt.Errorf("output: unknown verbosity %q", s)
	}
}

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "standard"
	}
}

// FormatFinding returns a copy of f with evidence trimmed according to verbosity.
func FormatFinding(f model.Finding, v Verbosity) model.Finding {
	switch v {
	case Minimal:
		f.LogEvidence = []string{}
	case Standard:
		n := min(len(f.LogEvidence), standardEvidenceLines)
		evidence := make([]string, n)
		for i := range n {
			evidence[i] = Truncate(f.LogEvidence[i], standardEvidenceRunes)
		}
		f.LogEvidence = evidence
	}
	return f
}

// Truncate shortens s to n runes, appending "..." when it was cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
