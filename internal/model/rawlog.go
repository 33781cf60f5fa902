package model

import "time"

// RawLog is the intermediate type produced by connectors and consumed by the normalizer.
type RawLog struct {
	Timestamp time.Time
	Source    string         // origin label (file path, "stdin", "manual", ...)
	Raw       string         // original log text
	Metadata  map[string]any // caller-supplied labels, stored under meta_ keys
}
