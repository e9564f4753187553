package ristretto

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/membank/membank/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "ristretto",
		Loader: func(ctx context.Context) (cache.EmbeddingCache, error) {
			return New()
		},
	})
}

// New creates an in-process embedding cache. Sized for roughly 100k
// 384-dim float32 vectors.
func New() (cache.EmbeddingCache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: 1e6,
		MaxCost:     256 << 20, // 256 MB
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto cache: %w", err)
	}
	return &ristrettoCache{inner: inner}, nil
}

type ristrettoCache struct {
	inner *ristretto.Cache[string, []float32]
}

func (c *ristrettoCache) Available() bool { return true }

func (c *ristrettoCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	vec, ok := c.inner.Get(key)
	return vec, ok, nil
}

func (c *ristrettoCache) Set(_ context.Context, key string, vector []float32) error {
	c.inner.Set(key, vector, int64(len(vector)*4))
	return nil
}

var _ cache.EmbeddingCache = (*ristrettoCache)(nil)
