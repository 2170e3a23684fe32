package embeddings

import (
	"context"
	"sync"
	"time"

	"agent-memory-core/internal/errs"
)

// CachedEmbedder wraps an Embedder with a process-wide LRU+TTL cache keyed
// by exact text match, and serializes calls to the underlying model with a
// single-flight mutex unless the model declares itself thread-safe
// (spec.md §4.13 scheduling model).
type CachedEmbedder struct {
	underlying   Embedder
	cache        *cache
	threadSafe   bool
	inferenceMu  sync.Mutex
}

// NewCachedEmbedder wraps underlying with a bounded LRU+TTL cache.
// threadSafe indicates whether underlying's Embed/EmbedSingle may be called
// concurrently; when false, calls are serialized through a single mutex.
func NewCachedEmbedder(underlying Embedder, maxSize int, ttl time.Duration, threadSafe bool) *CachedEmbedder {
	return &CachedEmbedder{
		underlying: underlying,
		cache:      newCache(maxSize, ttl),
		threadSafe: threadSafe,
	}
}

func (c *CachedEmbedder) Dimensions() int { return c.underlying.Dimensions() }
func (c *CachedEmbedder) Name() string    { return c.underlying.Name() }

// Stats reports the embedding cache's hit/miss/eviction counters.
func (c *CachedEmbedder) Stats() CacheStats { return c.cache.stats() }

// CleanExpired evicts expired cache entries and reports how many were removed.
func (c *CachedEmbedder) CleanExpired() int { return c.cache.cleanExpired() }

// Clear empties the cache.
func (c *CachedEmbedder) Clear() { c.cache.clear() }

func (c *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.get(text); ok {
		return v, nil
	}

	v, err := c.infer(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.cache.set(text, v[0])
	return v[0], nil
}

// Embed looks up each text in the cache, batches the misses into a single
// call to the underlying model, and repopulates the cache.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := c.cache.get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	computed, err := c.infer(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		out[idx] = computed[j]
		c.cache.set(missTexts[j], computed[j])
	}
	return out, nil
}

func (c *CachedEmbedder) infer(ctx context.Context, texts []string) ([][]float64, error) {
	if !c.threadSafe {
		c.inferenceMu.Lock()
		defer c.inferenceMu.Unlock()
	}
	v, err := c.underlying.Embed(ctx, texts)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, component, "infer", "embedding model call failed", err)
	}
	return v, nil
}
