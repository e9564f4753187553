package vector

import (
	"context"
	"fmt"

	"github.com/membank/membank/internal/model"
)

// SearchResult is a single similarity search hit.
type SearchResult struct {
	Record model.MemoryRecord `json:"record"`
	Score  float64            `json:"score"`
}

// UpsertItem holds one record and its embedding for an upsert.
type UpsertItem struct {
	Record model.MemoryRecord
	Vector []float32
}

// VectorStore defines the interface for vector database backends.
// Collections are created lazily with a fixed dimension and cosine
// distance; an existing collection with a conflicting dimension is a
// fatal schema mismatch, never coerced.
type VectorStore interface {
	// EnsureCollection creates the collection if absent. Returns a
	// *model.CollectionError when the backend is unreachable or an
	// existing collection's dimension conflicts with dim.
	EnsureCollection(ctx context.Context, collection string, dim int) error
	// CollectionExists reports whether the collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)
	// DropCollection removes the collection and all its points.
	DropCollection(ctx context.Context, collection string) error
	// Upsert stores records with their embeddings.
	Upsert(ctx context.Context, collection string, items []UpsertItem) error
	// Search returns up to limit records ranked by similarity descending.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchResult, error)
	// Get retrieves a record by its id, or nil when absent.
	Get(ctx context.Context, collection string, id string) (*model.MemoryRecord, error)
	// Delete removes a record by its id.
	Delete(ctx context.Context, collection string, id string) error
	// Count returns the number of stored points.
	Count(ctx context.Context, collection string) (uint64, error)
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant", "pgvector", "inmem").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
