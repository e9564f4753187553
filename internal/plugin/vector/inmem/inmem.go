// Package inmem is a process-local VectorStore used for tests and for
// running without a Qdrant or Postgres backend. Cosine scoring over a
// flat scan; not meant for large corpora.
package inmem

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/membank/membank/internal/model"
	registryvector "github.com/membank/membank/internal/registry/vector"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "inmem",
		Loader: func(ctx context.Context) (registryvector.VectorStore, error) {
			return New(), nil
		},
	})
}

// New creates an empty in-memory vector store.
func New() *Store {
	return &Store{collections: map[string]*collection{}}
}

type point struct {
	record model.MemoryRecord
	vector []float32
}

type collection struct {
	dim    int
	points map[string]point
}

// Store implements VectorStore in process memory.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "inmem" }

func (s *Store) EnsureCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dim != dim {
			return &model.CollectionError{
				Collection: name,
				Message:    "dimension mismatch",
			}
		}
		return nil
	}
	s.collections[name] = &collection{dim: dim, points: map[string]point{}}
	return nil
}

func (s *Store) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Store) Upsert(_ context.Context, name string, items []registryvector.UpsertItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return &model.CollectionError{Collection: name, Message: "collection does not exist"}
	}
	for _, item := range items {
		if len(item.Vector) != c.dim {
			return &model.CollectionError{
				Collection: name,
				Message:    "vector dimension does not match collection",
			}
		}
		c.points[item.Record.ID] = point{record: item.Record, vector: item.Vector}
	}
	return nil
}

func (s *Store) Search(_ context.Context, name string, vector []float32, limit int) ([]registryvector.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, &model.CollectionError{Collection: name, Message: "collection does not exist"}
	}
	var results []registryvector.SearchResult
	for _, p := range c.points {
		results = append(results, registryvector.SearchResult{
			Record: p.record,
			Score:  cosine(vector, p.vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) Get(_ context.Context, name string, id string) (*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, &model.CollectionError{Collection: name, Message: "collection does not exist"}
	}
	p, ok := c.points[id]
	if !ok {
		return nil, nil
	}
	rec := p.record
	return &rec, nil
}

func (s *Store) Delete(_ context.Context, name string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		delete(c.points, id)
	}
	return nil
}

func (s *Store) Count(_ context.Context, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	return uint64(len(c.points)), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ registryvector.VectorStore = (*Store)(nil)
