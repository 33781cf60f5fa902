package testdata

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"
)

// BagOfWords is a deterministic embedder for tests: lowercase words are
// hashed into Dim buckets. Texts sharing words score as similar.
type BagOfWords struct {
	Dim   int
	calls atomic.Int64
}

// Calls reports how many embedding requests were made.
func (b *BagOfWords) Calls() int { return int(b.calls.Load()) }

func (b *BagOfWords) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (b *BagOfWords) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := b.Dim
	if dim <= 0 {
		dim = 64
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		for _, word := range strings.FieldsFunc(strings.ToLower(t), isSeparator) {
			h := fnv.New32a()
			h.Write([]byte(word))
			v[h.Sum32()%uint32(dim)]++
		}
		out[i] = v
	}
	return out, nil
}

func (b *BagOfWords) Close() error { return nil }

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '|', ':', ',', '"', '{', '}', '[', ']', '(', ')', '=', ';':
		return true
	}
	return false
}
