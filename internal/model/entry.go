package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// LogEntry is a normalized, search-ready log record. Treat it as immutable
// once created: SearchableText is derived from RawText, Fields and Source.
type LogEntry struct {
	ID             string         `json:"id"`
	RawText        string         `json:"raw_text"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         string         `json:"source"`
	Fields         Fields         `json:"structured_fields,omitempty"` // nil when no structure was recognized
	Metadata       map[string]any `json:"metadata,omitempty"`
	SearchableText string         `json:"searchable_text"`
}

// Field is one structured key/value pair extracted from a raw line.
// Value is one of string, int64, float64, bool, nil, or json.RawMessage
// for nested objects and arrays.
type Field struct {
	Key   string
	Value any
}

// Fields keeps extracted fields in source order.
type Fields []Field

// Get returns the value stored under key.
func (f Fields) Get(key string) (any, bool) {
	for _, fld := range f {
		if fld.Key == key {
			return fld.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the fields as a JSON object, preserving order.
func (f Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fld := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(fld.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(fld.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IsScalar reports whether v is a string, number or boolean.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, int64, float64, bool:
		return true
	default:
		return false
	}
}

// StoredVector is what the embedding store persists for one entry.
type StoredVector struct {
	ID        string
	Embedding []float32
	Document  string         // SearchableText at embed time
	Metadata  map[string]any // flat: scalar values only
}

// RetrievalHit is one nearest-neighbour result.
type RetrievalHit struct {
	ID         string         `json:"id"`
	Document   string         `json:"document"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"` // 1 - distance, clamped to [0,1]
}
