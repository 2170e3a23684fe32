package embeddings

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"agent-memory-core/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackEmbedder(t *testing.T) {
	e := NewFallbackEmbedder(64)

	t.Run("is deterministic", func(t *testing.T) {
		a, err := e.EmbedSingle(context.Background(), "hello world")
		require.NoError(t, err)
		b, err := e.EmbedSingle(context.Background(), "hello world")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("differs across inputs", func(t *testing.T) {
		a, err := e.EmbedSingle(context.Background(), "hello")
		require.NoError(t, err)
		b, err := e.EmbedSingle(context.Background(), "goodbye")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("is unit-normalized", func(t *testing.T) {
		v, err := e.EmbedSingle(context.Background(), "normalize me")
		require.NoError(t, err)

		var normSq float64
		for _, x := range v {
			normSq += x * x
		}
		assert.InDelta(t, 1.0, math.Sqrt(normSq), 1e-9)
	})

	t.Run("respects the configured dimensionality", func(t *testing.T) {
		v, err := e.EmbedSingle(context.Background(), "text")
		require.NoError(t, err)
		assert.Len(t, v, 64)
		assert.Equal(t, 64, e.Dimensions())
	})

	t.Run("Embed preserves order and length", func(t *testing.T) {
		vectors, err := e.Embed(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		single, err := e.EmbedSingle(context.Background(), "b")
		require.NoError(t, err)
		assert.Equal(t, single, vectors[1])
	})
}

type countingEmbedder struct {
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("model unavailable")
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float64, error) {
	vs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (c *countingEmbedder) Dimensions() int { return 1 }
func (c *countingEmbedder) Name() string    { return "counting" }

func TestCachedEmbedder(t *testing.T) {
	t.Run("caches repeated lookups", func(t *testing.T) {
		underlying := &countingEmbedder{}
		c := NewCachedEmbedder(underlying, 10, time.Hour, true)

		_, err := c.EmbedSingle(context.Background(), "abc")
		require.NoError(t, err)
		_, err = c.EmbedSingle(context.Background(), "abc")
		require.NoError(t, err)

		assert.Equal(t, 1, underlying.calls)
		assert.Equal(t, int64(1), c.Stats().Hits)
	})

	t.Run("batches only cache misses", func(t *testing.T) {
		underlying := &countingEmbedder{}
		c := NewCachedEmbedder(underlying, 10, time.Hour, true)

		_, err := c.EmbedSingle(context.Background(), "warm")
		require.NoError(t, err)

		vectors, err := c.Embed(context.Background(), []string{"warm", "cold"})
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, 2, underlying.calls)
	})

	t.Run("wraps underlying failures as DependencyUnavailable", func(t *testing.T) {
		underlying := &countingEmbedder{fail: true}
		c := NewCachedEmbedder(underlying, 10, time.Hour, true)

		_, err := c.EmbedSingle(context.Background(), "anything")
		require.Error(t, err)
		assert.Equal(t, errs.KindDependencyUnavailable, errs.KindOf(err))
	})

	t.Run("Clear empties the cache", func(t *testing.T) {
		underlying := &countingEmbedder{}
		c := NewCachedEmbedder(underlying, 10, time.Hour, true)

		_, err := c.EmbedSingle(context.Background(), "x")
		require.NoError(t, err)
		c.Clear()

		_, err = c.EmbedSingle(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 2, underlying.calls)
	})
}
