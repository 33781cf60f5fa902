package store

import (
	"math"
	"time"

	"github.com/crimson-sun/watchdog/internal/model"
)

const (
	structPrefix    = "struct_"
	metaPrefix      = "meta_"
	maxMetadataText = 100
)

// FlattenMetadata builds the flat metadata stored beside an entry's vector:
// timestamp, source, struct_<key> for scalar structured fields and
// meta_<key> for scalar caller metadata. Strings are cut to 100 characters.
// Nested values and non-finite numbers are dropped.
func FlattenMetadata(e model.LogEntry) map[string]any {
	md := map[string]any{
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"source":    e.Source,
	}
	for _, f := range e.Fields {
		if v, ok := flatScalar(f.Value); ok {
			md[structPrefix+f.Key] = v
		}
	}
	for k, v := range e.Metadata {
		if s, ok := flatScalar(v); ok {
			md[metaPrefix+k] = s
		}
	}
	return md
}

// flatScalar normalizes v to string, int64, float64 or bool.
func flatScalar(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return truncateRunes(x, maxMetadataText), true
	case bool, int64:
		return x, true
	case float64:
		return x, finite(x)
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float32:
		return float64(x), finite(float64(x))
	default:
		return nil, false
	}
}

// finite reports whether f survives JSON encoding.
func finite(f float64) bool { return !math.IsInf(f, 0) && !math.IsNaN(f) }

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
