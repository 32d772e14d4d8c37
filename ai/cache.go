package ai

import (
	"context"
	"slices"

	"github.com/dgraph-io/ristretto/v2"
)

// CachingEmbedder memoizes embeddings by exact text. It is safe for
// concurrent use. Cached vectors are copied on the way out.
type CachingEmbedder struct {
	next  Embedder
	cache *ristretto.Cache[string, []float32]
}

var _ Embedder = (*CachingEmbedder)(nil)

// NewCachingEmbedder wraps next with a cache holding about maxEntries vectors.
func NewCachingEmbedder(next Embedder, maxEntries int64) (*CachingEmbedder, error) {
	if maxEntries < 1 {
		maxEntries = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachingEmbedder{next: next, cache: cache}, nil
}

// EmbedText returns the cached vector for text or computes and caches it.
func (c *CachingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v), nil
	}
	v, err := c.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, slices.Clone(v), 1)
	return v, nil
}

// EmbedTexts embeds only the texts missing from the cache, in one batch.
func (c *CachingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = slices.Clone(v)
			continue
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		if j >= len(slots) {
			break
		}
		out[slots[j]] = v
		if len(v) > 0 {
			c.cache.Set(missing[j], slices.Clone(v), 1)
		}
	}
	return out, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachingEmbedder) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *CachingEmbedder) Close() {
	c.cache.Close()
}

// Clear drops every cached vector.
func (c *CachingEmbedder) Clear() {
	c.cache.Clear()
}
