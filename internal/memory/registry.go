package memory

import (
	"context"
	"sync"

	registryvector "github.com/membank/membank/internal/registry/vector"
)

// Collection describes a resolved physical collection.
type Collection struct {
	Name      string
	Dimension int
}

// CollectionRegistry maps namespaces onto physical collections,
// creating the backing collection on first resolution. Resolving an
// already-resolved namespace is a no-op returning the same descriptor.
type CollectionRegistry struct {
	vector registryvector.VectorStore
	dim    int

	mu       sync.Mutex
	resolved map[string]Collection
}

// NewCollectionRegistry creates a registry creating collections with
// the given dimension and cosine distance.
func NewCollectionRegistry(vector registryvector.VectorStore, dim int) *CollectionRegistry {
	return &CollectionRegistry{
		vector:   vector,
		dim:      dim,
		resolved: map[string]Collection{},
	}
}

// Dimension returns the dimension collections are created with.
func (r *CollectionRegistry) Dimension() int { return r.dim }

// Resolve returns the collection backing the namespace, creating it if
// absent. A schema mismatch with an existing collection surfaces as a
// *model.CollectionError and is never coerced.
func (r *CollectionRegistry) Resolve(ctx context.Context, ns Namespace) (Collection, error) {
	name := ns.CollectionName()

	r.mu.Lock()
	if col, ok := r.resolved[name]; ok {
		r.mu.Unlock()
		return col, nil
	}
	r.mu.Unlock()

	// EnsureCollection is idempotent, so concurrent resolvers of the
	// same namespace converge on the same descriptor.
	if err := r.vector.EnsureCollection(ctx, name, r.dim); err != nil {
		return Collection{}, err
	}

	col := Collection{Name: name, Dimension: r.dim}
	r.mu.Lock()
	r.resolved[name] = col
	r.mu.Unlock()
	return col, nil
}

// Exists reports whether the namespace has a backing collection,
// without creating one.
func (r *CollectionRegistry) Exists(ctx context.Context, ns Namespace) (bool, error) {
	name := ns.CollectionName()

	r.mu.Lock()
	_, ok := r.resolved[name]
	r.mu.Unlock()
	if ok {
		return true, nil
	}
	return r.vector.CollectionExists(ctx, name)
}

// Forget drops the in-process descriptor so the next Resolve hits the
// backend again. Used after a collection is dropped for re-indexing.
func (r *CollectionRegistry) Forget(ns Namespace) {
	r.mu.Lock()
	delete(r.resolved, ns.CollectionName())
	r.mu.Unlock()
}
