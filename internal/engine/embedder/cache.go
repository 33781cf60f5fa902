package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the byte store behind Cached. A miss returns (nil, nil).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	c *redis.Client
}

// NewRedisKV connects to addr. The connection is verified with PING.
func NewRedisKV(ctx context.Context, addr, password string, db int) (*RedisKV, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisKV{c: c}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (r *RedisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.c.Set(ctx, key, val, ttl).Err()
}

// Close closes the underlying client.
func (r *RedisKV) Close() error { return r.c.Close() }

// Cached memoizes vectors of an inner Embedder keyed by namespace and text.
// Cache failures are logged and bypassed; they never fail an embed call.
type Cached struct {
	inner     Embedder
	kv        KV
	namespace string
	ttl       time.Duration
}

// NewCached wraps inner. namespace should identify the provider and model so
// vectors from different spaces never mix.
func NewCached(inner Embedder, kv KV, namespace string, ttl time.Duration) *Cached {
	return &Cached{inner: inner, kv: kv, namespace: namespace, ttl: ttl}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch serves hits from the cache and embeds all misses in one call.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string
	for i, text := range texts {
		b, err := c.kv.Get(ctx, c.key(text))
		if err != nil {
			slog.Warn("embedding cache get failed", "error", err)
		}
		if vec, ok := decodeVector(b); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, text)
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missText))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.kv.Set(ctx, c.key(missText[j]), encodeVector(vecs[j]), c.ttl); err != nil {
			slog.Warn("embedding cache set failed", "error", err)
		}
	}
	return out, nil
}

func (c *Cached) Close() error { return c.inner.Close() }

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "watchdog:emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 0, 4*len(v))
	for _, f := range v {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, true
}
