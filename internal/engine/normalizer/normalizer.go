// Package normalizer turns raw log lines into search-ready entries.
package normalizer

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/crimson-sun/watchdog/internal/model"
)

// Separator joins the parts of an entry's searchable text.
const Separator = " | "

// syslogPattern matches "<Mon DD HH:MM:SS> <host> <service>: <message>".
var syslogPattern = regexp.MustCompile(`^(\w+\s+\d+\s+\d+:\d+:\d+)\s+(\w+)\s+([^:]+):\s*(.*)`)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the function used for entries without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithIDFunc sets the entry ID generator. Default: random UUIDs.
func WithIDFunc(f func() string) Option {
	return func(n *Normalizer) { n.newID = f }
}

// Normalizer builds LogEntry values. It performs no I/O.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one raw line into a LogEntry. Returns false for blank
// lines. A zero ts defaults to the current time.
func (n *Normalizer) Normalize(raw, source string, ts time.Time) (model.LogEntry, bool) {
	return n.normalize(raw, source, ts, nil)
}

// FromRaw normalizes a connector record, carrying its metadata along.
func (n *Normalizer) FromRaw(r model.RawLog) (model.LogEntry, bool) {
	return n.normalize(r.Raw, r.Source, r.Timestamp, r.Metadata)
}

// ParseLines splits a document on newlines and normalizes every non-blank line.
func (n *Normalizer) ParseLines(data, source string) []model.LogEntry {
	now := n.now()
	var entries []model.LogEntry
	for _, line := range strings.Split(data, "\n") {
		if e, ok := n.normalize(line, source, now, nil); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func (n *Normalizer) normalize(raw, source string, ts time.Time, meta map[string]any) (model.LogEntry, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return model.LogEntry{}, false
	}
	if ts.IsZero() {
		ts = n.now()
	}
	fields := ExtractFields(text)
	return model.LogEntry{
		ID:             n.newID(),
		RawText:        text,
		Timestamp:      ts,
		Source:         source,
		Fields:         fields,
		Metadata:       meta,
		SearchableText: SearchableText(text, fields, source),
	}, true
}

// ExtractFields recognizes a whole-line JSON object or a syslog-style line.
// Returns nil when neither matches.
func ExtractFields(text string) model.Fields {
	if strings.HasPrefix(text, "{") {
		if f, ok := jsonFields(text); ok {
			return f
		}
	}
	if m := syslogPattern.FindStringSubmatch(text); m != nil {
		return model.Fields{
			{Key: "timestamp", Value: m[1]},
			{Key: "hostname", Value: m[2]},
			{Key: "service", Value: m[3]},
			{Key: "message", Value: m[4]},
		}
	}
	return nil
}

// SearchableText renders the text handed to the embedding capability:
// the raw line, every scalar field as "key: value", then "source: <source>".
func SearchableText(raw string, fields model.Fields, source string) string {
	parts := []string{raw}
	for _, f := range fields {
		if s, ok := FormatScalar(f.Value); ok {
			parts = append(parts, f.Key+": "+s)
		}
	}
	parts = append(parts, "source: "+source)
	return strings.Join(parts, Separator)
}

// FormatScalar renders a scalar field value. Non-scalars report false.
func FormatScalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

func jsonFields(text string) (model.Fields, bool) {
	var p fastjson.Parser
	v, err := p.Parse(text)
	if err != nil || v.Type() != fastjson.TypeObject {
		return nil, false
	}
	obj, _ := v.Object()

	fields := model.Fields{}
	index := make(map[string]int)
	obj.Visit(func(key []byte, val *fastjson.Value) {
		k := string(key)
		fv := fieldValue(val)
		// A repeated key keeps its first position and its last value.
		if i, ok := index[k]; ok {
			fields[i].Value = fv
			return
		}
		index[k] = len(fields)
		fields = append(fields, model.Field{Key: k, Value: fv})
	})
	return fields, true
}

func fieldValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return i
		}
		// Out-of-range numbers keep their literal text.
		if f, err := v.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
		return string(v.MarshalTo(nil))
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	default:
		return json.RawMessage(v.MarshalTo(nil))
	}
}
