package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder wraps an Embedder with a bounded in-memory cache keyed by text.
// Cached vectors are shared; callers must not modify them.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder caches up to capacity embeddings from inner.
func NewCachedEmbedder(inner Embedder, capacity int) (*CachedEmbedder, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text or asks the wrapped embedder. Callers own the
// returned slice.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return append([]float32(nil), v.([]float32)...), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Wait blocks until buffered cache writes are applied.
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache and the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Close()
	return c.inner.Close()
}
