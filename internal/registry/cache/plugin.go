package cache

import (
	"context"
	"fmt"
)

// EmbeddingCache caches computed embeddings keyed by a content digest,
// so repeated adds and queries of identical text skip the model call.
type EmbeddingCache interface {
	Available() bool
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// Loader creates an EmbeddingCache from config.
type Loader func(ctx context.Context) (EmbeddingCache, error)

// Plugin represents an embedding cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
