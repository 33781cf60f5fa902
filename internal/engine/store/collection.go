package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/crimson-sun/watchdog/internal/model"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "watchdog_logs"

// Match is a raw nearest-neighbour result. Distance is cosine distance.
type Match struct {
	ID       string
	Document string
	Metadata map[string]any
	Distance float64
}

// Collection is a named, persistent set of vectors.
type Collection interface {
	Name() string
	// Location describes where the collection lives (path, DSN host, ":memory:").
	Location() string
	// Add inserts all vectors or none. An existing ID fails the whole call
	// with ErrDuplicateID.
	Add(ctx context.Context, vecs []model.StoredVector) error
	// Query returns up to k matches by ascending distance; ties keep
	// insertion order.
	Query(ctx context.Context, vec []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	// Reset drops every vector and recreates the collection under the same name.
	Reset(ctx context.Context) error
	Close() error
}

// Options selects and configures a Collection.
type Options struct {
	Provider         string // memory, sqlite, postgres
	Name             string
	PersistDirectory string // sqlite
	DSN              string // postgres
}

// OpenCollection builds the collection named by opts.Provider.
func OpenCollection(ctx context.Context, opts Options) (Collection, error) {
	if opts.Name == "" {
		opts.Name = DefaultCollection
	}
	switch opts.Provider {
	case "memory":
		return NewMemory(opts.Name), nil
	case "", "sqlite":
		return OpenSQLite(ctx, opts.PersistDirectory, opts.Name)
	case "postgres":
		return OpenPostgres(ctx, opts.DSN, opts.Name)
	default:
		return nil, fmt.Errorf("unknown vector store provider: %s", opts.Provider)
	}
}

// cosineDistance is 1 - cosine similarity, in [0, 2]. Mismatched or zero
// vectors are treated as orthogonal.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// nearest sorts matches (already in insertion order) by distance and keeps k.
func nearest(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
