package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/membank/membank/internal/config"
	registrycache "github.com/membank/membank/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.EmbeddingCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMBANK_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates an EmbeddingCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.EmbeddingCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &redisCache{client: client, ttl: defaultTTL}, nil
}

type redisCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func (c *redisCache) Available() bool { return true }

func (c *redisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, vector []float32) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

var _ registrycache.EmbeddingCache = (*redisCache)(nil)
