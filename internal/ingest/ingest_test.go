package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/semantic"
	"agent-memory-core/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngestor(t *testing.T) (*Ingestor, semantic.Store) {
	t.Helper()
	store, err := semantic.NewLegacyStore(t.TempDir(), embeddings.NewFallbackEmbedder(16))
	require.NoError(t, err)
	return New(store), store
}

func TestIngestTextProducesChunks(t *testing.T) {
	in, _ := newTestIngestor(t)
	ids, err := in.IngestText(context.Background(), "some document content here", types.ChunkMetadata{Source: "a.md"}, 500, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, ids)
}

func TestIngestFileInfersTypeAndSource(t *testing.T) {
	in, store := newTestIngestor(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644))

	ids, err := in.IngestFile(context.Background(), path, types.ChunkMetadata{}, 500, 0)
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	chunk, err := store.GetChunkById(context.Background(), ids[0])
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, path, chunk.Metadata.Source)
	assert.Equal(t, types.ChunkTypeCode, chunk.Metadata.Type)
}

func TestIngestFileInfersDocType(t *testing.T) {
	in, store := newTestIngestor(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some notes"), 0o644))

	ids, err := in.IngestFile(context.Background(), path, types.ChunkMetadata{}, 500, 0)
	require.NoError(t, err)

	chunk, err := store.GetChunkById(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.ChunkTypeDoc, chunk.Metadata.Type)
}

func TestIngestFileMissingFile(t *testing.T) {
	in, _ := newTestIngestor(t)
	_, err := in.IngestFile(context.Background(), "/no/such/file.txt", types.ChunkMetadata{}, 500, 0)
	require.Error(t, err)
}

func TestIngestFilePreservesExplicitMetadata(t *testing.T) {
	in, store := newTestIngestor(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))

	ids, err := in.IngestFile(context.Background(), path, types.ChunkMetadata{Source: "custom-source", Type: types.ChunkTypeDoc}, 500, 0)
	require.NoError(t, err)

	chunk, err := store.GetChunkById(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "custom-source", chunk.Metadata.Source)
	assert.Equal(t, types.ChunkTypeDoc, chunk.Metadata.Type)
}

func TestIngestDirectoryWalksAndFilters(t *testing.T) {
	in, _ := newTestIngestor(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.md"), []byte("keep this content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.log"), []byte("skip this content"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden", "x.md"), []byte("hidden content"), 0o644))

	results, err := in.IngestDirectory(context.Background(), dir, "*.md", 500, 0)
	require.NoError(t, err)

	assert.Contains(t, results, filepath.Join(dir, "keep.md"))
	assert.NotContains(t, results, filepath.Join(dir, "skip.log"))
	assert.NotContains(t, results, filepath.Join(dir, ".hidden", "x.md"))
}

func TestInferType(t *testing.T) {
	assert.Equal(t, types.ChunkTypeCode, inferType("main.go"))
	assert.Equal(t, types.ChunkTypeCode, inferType("script.PY"))
	assert.Equal(t, types.ChunkTypeDoc, inferType("README.md"))
}

func TestDecodeWithFallbackValidUTF8(t *testing.T) {
	text, err := decodeWithFallback([]byte("plain ascii text"))
	require.NoError(t, err)
	assert.Equal(t, "plain ascii text", text)
}
