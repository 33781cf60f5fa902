// Package testdata ships a small labeled log corpus used by tests across
// the engine, pipeline and server packages.
package testdata

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/crimson-sun/watchdog/internal/model"
)

//go:embed corpus.json
var corpusJSON []byte

// Topics in the corpus.
const (
	TopicSecurity      = "security"
	TopicPerformance   = "performance"
	TopicAvailability  = "availability"
	TopicConfiguration = "configuration"
	TopicInfo          = "info"
)

// CorpusEntry is a labeled log line.
type CorpusEntry struct {
	Raw         string `json:"raw"`
	Source      string `json:"source"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

// LoadCorpus parses the embedded corpus.json and returns all entries.
func LoadCorpus() ([]CorpusEntry, error) {
	var entries []CorpusEntry
	if err := json.Unmarshal(corpusJSON, &entries); err != nil {
		return nil, fmt.Errorf("parse corpus.json: %w", err)
	}
	return entries, nil
}

// RawLogs converts corpus entries to connector output. Timestamps are left
// zero so the normalizer stamps them.
func RawLogs(entries []CorpusEntry) []model.RawLog {
	out := make([]model.RawLog, len(entries))
	for i, e := range entries {
		out[i] = model.RawLog{Raw: e.Raw, Source: e.Source}
	}
	return out
}

// Document returns the corpus as one newline-separated log file.
func Document(entries []CorpusEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Raw)
		b.WriteByte('\n')
	}
	return b.String()
}
