package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultrag/internal/domain"
)

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string, _ domain.TaskType) ([][]float32, error) {
	e.calls = append(e.calls, append([]string(nil), texts...))
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int   { return 1 }
func (e *countingEmbedder) ModelName() string { return "counting" }

func TestQueryEmbeddingCache_HitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewQueryEmbeddingCache(inner, 10, time.Minute)
	ctx := context.Background()

	first, err := c.Embed(ctx, []string{"a", "bb"}, domain.TaskQuery)
	require.NoError(t, err)

	second, err := c.Embed(ctx, []string{"bb", "ccc", "a"}, domain.TaskQuery)
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1}, {2}}, first)
	assert.Equal(t, [][]float32{{2}, {3}, {1}}, second)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"ccc"}, inner.calls[1])
	assert.Equal(t, 3, c.Size())
}

func TestQueryEmbeddingCache_DocumentsBypass(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewQueryEmbeddingCache(inner, 10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Embed(ctx, []string{"doc"}, domain.TaskDocument)
		require.NoError(t, err)
	}
	assert.Len(t, inner.calls, 2)
	assert.Equal(t, 0, c.Size())
}

func TestQueryEmbeddingCache_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	c := NewQueryEmbeddingCache(inner, 10, time.Minute)

	_, err := c.Embed(context.Background(), []string{"q"}, domain.TaskQuery)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Size())
}

// fixedEmbedder returns the same vectors whatever it is asked to embed.
type fixedEmbedder struct {
	vecs [][]float32
}

func (e *fixedEmbedder) Embed(context.Context, []string, domain.TaskType) ([][]float32, error) {
	return e.vecs, nil
}

func (e *fixedEmbedder) Dimension() int   { return 1 }
func (e *fixedEmbedder) ModelName() string { return "fixed" }

func TestQueryEmbeddingCache_RejectsMismatchedVectorCount(t *testing.T) {
	cases := map[string][][]float32{
		"fewer":  {{1}},
		"more":   {{1}, {2}, {3}},
		"empty":  {{1}, nil},
		"absent": nil,
	}
	for name, vecs := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewQueryEmbeddingCache(&fixedEmbedder{vecs: vecs}, 10, time.Minute)

			out, err := c.Embed(context.Background(), []string{"a", "b"}, domain.TaskQuery)
			var embErr *domain.EmbeddingError
			require.ErrorAs(t, err, &embErr)
			assert.Nil(t, out)
			_, cached := c.lru.Get(c.cacheKey("b"))
			assert.False(t, cached)
		})
	}
}

func TestQueryEmbeddingCache_Expiry(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewQueryEmbeddingCache(inner, 10, 20*time.Millisecond)
	ctx := context.Background()

	_, err := c.Embed(ctx, []string{"q"}, domain.TaskQuery)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = c.Embed(ctx, []string{"q"}, domain.TaskQuery)
	require.NoError(t, err)

	assert.Len(t, inner.calls, 2)
}
