package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/crimson-sun/watchdog/internal/model"
)

// Memory is a process-local Collection.
type Memory struct {
	name string

	mu   sync.RWMutex
	rows []model.StoredVector
	ids  map[string]struct{}
}

// NewMemory returns an empty in-memory collection.
func NewMemory(name string) *Memory {
	return &Memory{name: name, ids: make(map[string]struct{})}
}

func (m *Memory) Name() string     { return m.name }
func (m *Memory) Location() string { return ":memory:" }

func (m *Memory) Add(_ context.Context, vecs []model.StoredVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{}, len(vecs))
	for _, v := range vecs {
		_, stored := m.ids[v.ID]
		_, batched := seen[v.ID]
		if stored || batched {
			return fmt.Errorf("%w: %s", ErrDuplicateID, v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	for _, v := range vecs {
		m.ids[v.ID] = struct{}{}
		m.rows = append(m.rows, v)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := make([]Match, 0, len(m.rows))
	for _, r := range m.rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Document: r.Document,
			Metadata: r.Metadata,
			Distance: cosineDistance(vec, r.Embedding),
		})
	}
	return nearest(matches, k), nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	m.ids = make(map[string]struct{})
	return nil
}

func (m *Memory) Close() error { return nil }
