package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"vaultrag/internal/domain"
	"vaultrag/internal/port"
)

// QueryEmbeddingCache decorates an Embedder with an LRU of query vectors.
// Document embeddings pass straight through; they are embedded once per
// content change and would only churn the cache.
type QueryEmbeddingCache struct {
	inner port.Embedder
	lru   *expirable.LRU[string, []float32]
}

func NewQueryEmbeddingCache(inner port.Embedder, maxSize int, ttl time.Duration) *QueryEmbeddingCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryEmbeddingCache{
		inner: inner,
		lru:   expirable.NewLRU[string, []float32](maxSize, nil, ttl),
	}
}

func (c *QueryEmbeddingCache) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(hash[:16])
}

func (c *QueryEmbeddingCache) Embed(ctx context.Context, texts []string, task domain.TaskType) ([][]float32, error) {
	if task != domain.TaskQuery {
		return c.inner.Embed(ctx, texts, task)
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := c.lru.Get(c.cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts, task)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, &domain.EmbeddingError{Index: -1, Err: fmt.Errorf("got %d vectors for %d texts", len(vecs), len(missTexts))}
	}
	for j, vec := range vecs {
		if len(vec) == 0 {
			return nil, &domain.EmbeddingError{Index: missIdx[j], Err: errors.New("empty vector")}
		}
		out[missIdx[j]] = vec
		c.lru.Add(c.cacheKey(missTexts[j]), vec)
	}
	return out, nil
}

func (c *QueryEmbeddingCache) Dimension() int {
	return c.inner.Dimension()
}

func (c *QueryEmbeddingCache) ModelName() string {
	return c.inner.ModelName()
}

// Size returns the number of cached query vectors.
func (c *QueryEmbeddingCache) Size() int {
	return c.lru.Len()
}
