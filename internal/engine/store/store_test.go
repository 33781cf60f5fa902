package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/watchdog/internal/model"
)

// wordEmbedder hashes lowercase words into a small bag-of-words vector.
type wordEmbedder struct {
	calls int
	short bool          // return one vector fewer than asked
	err   error         // fail every call
	delay time.Duration // block until ctx is done or delay passes
}

func (w *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := w.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (w *wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	w.calls++
	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.delay):
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v := make([]float32, 32)
		for _, word := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			v[h.Sum32()%32]++
		}
		out = append(out, v)
	}
	if w.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (w *wordEmbedder) Close() error { return nil }

func entry(id, text string) model.LogEntry {
	return model.LogEntry{
		ID:             id,
		RawText:        text,
		Timestamp:      time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC),
		Source:         "test.log",
		SearchableText: text + " | source: test.log",
	}
}

// collections runs fn against every in-process Collection implementation.
func collections(t *testing.T, fn func(t *testing.T, c Collection)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory(DefaultCollection)) })
	t.Run("sqlite", func(t *testing.T) {
		c, err := OpenSQLite(context.Background(), ":memory:", DefaultCollection)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		fn(t, c)
	})
}

func TestRoundTrip(t *testing.T) {
	collections(t, func(t *testing.T, c Collection) {
		s := New(&wordEmbedder{}, c)
		ctx := context.Background()
		entries := []model.LogEntry{
			entry("a", "database connection timeout after 30s"),
			entry("b", "user alice logged in"),
			entry("c", "disk usage at 91 percent"),
		}
		n, err := s.EmbedAndStore(ctx, entries)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		hits, err := s.Query(ctx, entries[1].SearchableText, 3)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "b", hits[0].ID)
		assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
		assert.Equal(t, entries[1].SearchableText, hits[0].Document)
		for i := 1; i < len(hits); i++ {
			assert.LessOrEqual(t, hits[i].Similarity, hits[i-1].Similarity)
		}
		for _, h := range hits {
			assert.GreaterOrEqual(t, h.Similarity, 0.0)
			assert.LessOrEqual(t, h.Similarity, 1.0)
		}
	})
}

func TestQueryEmptyStore(t *testing.T) {
	collections(t, func(t *testing.T, c Collection) {
		emb := &wordEmbedder{}
		s := New(emb, c)
		hits, err := s.Query(context.Background(), "anything", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.Zero(t, emb.calls, "empty store should not embed the query")
	})
}

func TestQueryNonPositiveK(t *testing.T) {
	s := New(&wordEmbedder{}, NewMemory(DefaultCollection))
	_, err := s.EmbedAndStore(context.Background(), []model.LogEntry{entry("a", "x")})
	require.NoError(t, err)
	for _, k := range []int{0, -1} {
		hits, err := s.Query(context.Background(), "x", k)
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	collections(t, func(t *testing.T, c Collection) {
		s := New(&wordEmbedder{}, c)
		ctx := context.Background()
		_, err := s.EmbedAndStore(ctx, []model.LogEntry{entry("first", "same text")})
		require.NoError(t, err)
		_, err = s.EmbedAndStore(ctx, []model.LogEntry{entry("second", "same text"), entry("third", "same text")})
		require.NoError(t, err)

		hits, err := s.Query(ctx, "same text | source: test.log", 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, []string{"first", "second", "third"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	})
}

func TestEmbedAndStoreEmpty(t *testing.T) {
	emb := &wordEmbedder{}
	n, err := New(emb, NewMemory(DefaultCollection)).EmbedAndStore(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, emb.calls)
}

func TestEmbedAndStoreMalformed(t *testing.T) {
	noText := entry("x", "")
	noText.SearchableText = "  "
	tests := []struct {
		name    string
		emb     *wordEmbedder
		entries []model.LogEntry
	}{
		{"missing id", &wordEmbedder{}, []model.LogEntry{entry("", "text")}},
		{"missing text", &wordEmbedder{}, []model.LogEntry{noText}},
		{"duplicate in batch", &wordEmbedder{}, []model.LogEntry{entry("a", "one"), entry("a", "two")}},
		{"vector count mismatch", &wordEmbedder{short: true}, []model.LogEntry{entry("a", "one"), entry("b", "two")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := NewMemory(DefaultCollection)
			_, err := New(tt.emb, coll).EmbedAndStore(context.Background(), tt.entries)
			var ee *EmbedError
			require.True(t, errors.As(err, &ee), "got %v", err)
			assert.Equal(t, ReasonMalformed, ee.Reason)
			n, _ := coll.Count(context.Background())
			assert.Zero(t, n)
		})
	}
}

func TestEmbedAndStoreIsAtomic(t *testing.T) {
	collections(t, func(t *testing.T, c Collection) {
		s := New(&wordEmbedder{}, c)
		ctx := context.Background()
		_, err := s.EmbedAndStore(ctx, []model.LogEntry{entry("a", "first")})
		require.NoError(t, err)

		_, err = s.EmbedAndStore(ctx, []model.LogEntry{entry("b", "second"), entry("a", "again")})
		var ee *EmbedError
		require.True(t, errors.As(err, &ee), "got %v", err)
		assert.Equal(t, ReasonMalformed, ee.Reason)
		assert.ErrorIs(t, err, ErrDuplicateID)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Count, "the failed batch must not be partially stored")
	})
}

func TestEmbedderFailureIsUnavailable(t *testing.T) {
	boom := errors.New("model not loaded")
	s := New(&wordEmbedder{err: boom}, NewMemory(DefaultCollection))

	_, err := s.EmbedAndStore(context.Background(), []model.LogEntry{entry("a", "x")})
	var ee *EmbedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ReasonUnavailable, ee.Reason)
	assert.ErrorIs(t, err, boom)
}

func TestQueryFailureIsUnavailable(t *testing.T) {
	emb := &wordEmbedder{}
	s := New(emb, NewMemory(DefaultCollection))
	_, err := s.EmbedAndStore(context.Background(), []model.LogEntry{entry("a", "x")})
	require.NoError(t, err)

	emb.err = errors.New("rate limited")
	_, err = s.Query(context.Background(), "x", 3)
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, ReasonUnavailable, qe.Reason)
}

func TestCapabilityTimeout(t *testing.T) {
	s := New(&wordEmbedder{delay: time.Minute}, NewMemory(DefaultCollection), WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := s.EmbedAndStore(context.Background(), []model.LogEntry{entry("a", "x")})
	assert.Less(t, time.Since(start), 10*time.Second)

	var ee *EmbedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ReasonUnavailable, ee.Reason)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatsAndClear(t *testing.T) {
	collections(t, func(t *testing.T, c Collection) {
		s := New(&wordEmbedder{}, c)
		ctx := context.Background()
		_, err := s.EmbedAndStore(ctx, []model.LogEntry{entry("a", "x"), entry("b", "y")})
		require.NoError(t, err)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Count: 2, Name: DefaultCollection, Location: ":memory:"}, st)

		require.NoError(t, s.Clear(ctx))
		st, err = s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Count)
		assert.Equal(t, DefaultCollection, st.Name)

		// IDs become available again after a clear.
		_, err = s.EmbedAndStore(ctx, []model.LogEntry{entry("a", "x")})
		require.NoError(t, err)
	})
}

func TestMetadataSurvivesStorage(t *testing.T) {
	collections(t, func(t *testing.T, c Collection) {
		s := New(&wordEmbedder{}, c)
		ctx := context.Background()
		e := entry("a", "login failed")
		e.Fields = model.Fields{
			{Key: "level", Value: "ERROR"},
			{Key: "attempts", Value: int64(3)},
			{Key: "ratio", Value: 0.5},
			{Key: "ctx", Value: json.RawMessage(`{"ip":"10.0.0.1"}`)},
		}
		_, err := s.EmbedAndStore(ctx, []model.LogEntry{e})
		require.NoError(t, err)

		hits, err := s.Query(ctx, e.SearchableText, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		md := hits[0].Metadata
		assert.Equal(t, "ERROR", md["struct_level"])
		assert.Equal(t, int64(3), md["struct_attempts"])
		assert.Equal(t, 0.5, md["struct_ratio"])
		assert.Equal(t, "test.log", md["source"])
		assert.Equal(t, "2024-03-04T12:00:00Z", md["timestamp"])
		assert.NotContains(t, md, "struct_ctx")
	})
}

func TestNonFiniteMetadataIsDropped(t *testing.T) {
	collections(t, func(t *testing.T, c Collection) {
		s := New(&wordEmbedder{}, c)
		ctx := context.Background()
		odd := entry("b", "request latency overflow")
		odd.Fields = model.Fields{
			{Key: "level", Value: "ERROR"},
			{Key: "latency", Value: math.Inf(1)},
		}
		odd.Metadata = map[string]any{"score": math.NaN()}

		n, err := s.EmbedAndStore(ctx, []model.LogEntry{entry("a", "ordinary line"), odd})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		hits, err := s.Query(ctx, odd.SearchableText, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ID)
		assert.Equal(t, "ERROR", hits[0].Metadata["struct_level"])
		assert.NotContains(t, hits[0].Metadata, "struct_latency")
		assert.NotContains(t, hits[0].Metadata, "meta_score")
	})
}

func TestSQLiteRejectsUnencodableMetadata(t *testing.T) {
	c, err := OpenSQLite(context.Background(), ":memory:", DefaultCollection)
	require.NoError(t, err)
	defer c.Close()

	err = c.Add(context.Background(), []model.StoredVector{{
		ID:        "a",
		Embedding: []float32{1, 0},
		Document:  "x",
		Metadata:  map[string]any{"v": math.Inf(1)},
	}})
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

// badMetadata fails every Add the way a collection does when metadata
// cannot be encoded.
type badMetadata struct{ *Memory }

func (badMetadata) Add(context.Context, []model.StoredVector) error {
	return fmt.Errorf("test: %w for a: json: unsupported value: +Inf", ErrInvalidMetadata)
}

func TestMetadataEncodeFailureIsMalformed(t *testing.T) {
	s := New(&wordEmbedder{}, badMetadata{NewMemory(DefaultCollection)})
	_, err := s.EmbedAndStore(context.Background(), []model.LogEntry{entry("a", "x")})
	var ee *EmbedError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, ReasonMalformed, ee.Reason)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestSimilarityClamp(t *testing.T) {
	tests := []struct{ distance, want float64 }{
		{0, 1}, {0.25, 0.75}, {1, 0}, {1.7, 0}, {-0.1, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, similarity(tt.distance), 1e-9, "distance %v", tt.distance)
	}
}
