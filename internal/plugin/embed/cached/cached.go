// Package cached wraps any Embedder with an EmbeddingCache so
// repeated embeddings of identical text skip the model call.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/charmbracelet/log"
	registrycache "github.com/membank/membank/internal/registry/cache"
	registryembed "github.com/membank/membank/internal/registry/embed"
)

// Wrap returns an Embedder that consults the cache before delegating.
// A nil or unavailable cache returns the delegate unchanged.
func Wrap(delegate registryembed.Embedder, cache registrycache.EmbeddingCache) registryembed.Embedder {
	if cache == nil || !cache.Available() {
		return delegate
	}
	return &cachedEmbedder{delegate: delegate, cache: cache}
}

type cachedEmbedder struct {
	delegate registryembed.Embedder
	cache    registrycache.EmbeddingCache
}

func (e *cachedEmbedder) ModelName() string { return e.delegate.ModelName() }
func (e *cachedEmbedder) Dimension() int    { return e.delegate.Dimension() }

func (e *cachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		vec, ok, err := e.cache.Get(ctx, e.key(text))
		if err != nil {
			// Cache failures degrade to a model call, never an error.
			log.Debug("embedding cache get failed", "err", err)
		}
		if ok {
			results[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := e.delegate.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range computed {
		results[missIdx[j]] = vec
		if err := e.cache.Set(ctx, e.key(missTexts[j]), vec); err != nil {
			log.Debug("embedding cache set failed", "err", err)
		}
	}
	return results, nil
}

// key digests model name and text so a model change never serves stale vectors.
func (e *cachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(e.delegate.ModelName() + "\x00" + text))
	return "embed:" + hex.EncodeToString(sum[:])
}

var _ registryembed.Embedder = (*cachedEmbedder)(nil)
