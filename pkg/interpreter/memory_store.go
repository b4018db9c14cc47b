// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/jllopis/sinp/pkg/errors"
)

// MemoryStore is an in-process VectorStore using brute-force cosine
// similarity. It suits registries of a few thousand capabilities.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	size   uint64
	points map[string]Point
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

// CreateCollection implements VectorStore.
func (s *MemoryStore) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.size != vectorSize {
			return errors.Newf(errors.CodeInvalidConfig, "collection %s has vector size %d, not %d", name, c.size, vectorSize)
		}
		return nil
	}
	s.collections[name] = &memoryCollection{size: vectorSize, points: make(map[string]Point)}
	return nil
}

// Upsert implements VectorStore.
func (s *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return errors.Newf(errors.CodeInvalidConfig, "collection %s does not exist", collection)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.size {
			return errors.Newf(errors.CodeInvalidConfig, "point %s has %d dimensions, want %d", p.ID, len(p.Vector), c.size)
		}
		c.points[p.ID] = p
	}
	return nil
}

// Search implements VectorStore.
func (s *MemoryStore) Search(_ context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidConfig, "collection %s does not exist", collection)
	}
	results := make([]SearchResult, 0, len(c.points))
	for _, p := range c.points {
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
