package noop

import (
	"context"

	"github.com/membank/membank/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.EmbeddingCache, error) {
			return &noopCache{}, nil
		},
	})
}

type noopCache struct{}

func (n *noopCache) Available() bool { return false }
func (n *noopCache) Get(_ context.Context, _ string) ([]float32, bool, error) {
	return nil, false, nil
}
func (n *noopCache) Set(_ context.Context, _ string, _ []float32) error { return nil }

var _ cache.EmbeddingCache = (*noopCache)(nil)
