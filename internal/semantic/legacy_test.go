package semantic

import (
	"context"
	"testing"

	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLegacyStore(t *testing.T) *LegacyStore {
	t.Helper()
	s, err := NewLegacyStore(t.TempDir(), embeddings.NewFallbackEmbedder(16))
	require.NoError(t, err)
	return s
}

func TestLegacyStoreAddAndSearch(t *testing.T) {
	s := newTestLegacyStore(t)
	ctx := context.Background()

	ids, err := s.AddDocument(ctx, "first paragraph about caching\n\nsecond paragraph about retries", types.ChunkMetadata{Source: "doc.md", Type: types.ChunkTypeDoc}, 40, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, ids)

	embedder := embeddings.NewFallbackEmbedder(16)
	vec, err := embedder.EmbedSingle(ctx, "first paragraph about caching")
	require.NoError(t, err)

	results, err := s.Search(ctx, vec, 5, nil, 0.0)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.Equal(t, results[0].ChunkID, ids[0])
}

func TestLegacyStoreRejectsForbiddenContent(t *testing.T) {
	s := newTestLegacyStore(t)
	_, err := s.AddDocument(context.Background(), "the user prefers dark mode", types.ChunkMetadata{Source: "x"}, 500, 0)
	require.Error(t, err)
	assert.Equal(t, errs.KindForbiddenContent, errs.KindOf(err))
}

func TestLegacyStoreReingestReplacesChunks(t *testing.T) {
	s := newTestLegacyStore(t)
	ctx := context.Background()

	first, err := s.AddDocument(ctx, "version one of the document", types.ChunkMetadata{Source: "doc.md"}, 500, 0)
	require.NoError(t, err)

	second, err := s.AddDocument(ctx, "version two of the document, now longer", types.ChunkMetadata{Source: "doc.md"}, 500, 0)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))
	for _, id := range first {
		chunk, err := s.GetChunkById(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, chunk.Content, "version two")
	}
}

func TestLegacyStoreDeleteDocument(t *testing.T) {
	s := newTestLegacyStore(t)
	ctx := context.Background()

	ids, err := s.AddDocument(ctx, "some content to delete", types.ChunkMetadata{Source: "gone.md"}, 500, 0)
	require.NoError(t, err)

	n, err := s.DeleteDocument(ctx, DocumentID("gone.md"))
	require.NoError(t, err)
	assert.Equal(t, len(ids), n)

	for _, id := range ids {
		chunk, err := s.GetChunkById(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, chunk)
	}
}

func TestLegacyStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	embedder := embeddings.NewFallbackEmbedder(16)
	ctx := context.Background()

	s, err := NewLegacyStore(dir, embedder)
	require.NoError(t, err)
	ids, err := s.AddDocument(ctx, "persisted content", types.ChunkMetadata{Source: "p.md"}, 500, 0)
	require.NoError(t, err)

	reopened, err := NewLegacyStore(dir, embedder)
	require.NoError(t, err)

	for _, id := range ids {
		chunk, err := reopened.GetChunkById(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, chunk)
		assert.Equal(t, "persisted content", chunk.Content)
	}
}

func TestLegacyStoreAllChunks(t *testing.T) {
	s := newTestLegacyStore(t)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, "content a", types.ChunkMetadata{Source: "a.md"}, 500, 0)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, "content b", types.ChunkMetadata{Source: "b.md"}, 500, 0)
	require.NoError(t, err)

	assert.Len(t, s.AllChunks(), 2)
}
