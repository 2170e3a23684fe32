package semantic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agent-memory-core/internal/config"
	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChromaTestServer(t *testing.T) (*httptest.Server, *chromaQueryResponse) {
	t.Helper()
	queryResp := &chromaQueryResponse{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]chromaCollection{})
		case http.MethodPost:
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/api/v1/collections/agent_memory/upsert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/collections/agent_memory/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(queryResp)
	})
	mux.HandleFunc("/api/v1/collections/agent_memory/delete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, queryResp
}

func newTestChromaStore(t *testing.T) (*ChromaStore, *chromaQueryResponse) {
	t.Helper()
	srv, queryResp := newChromaTestServer(t)
	embedder := embeddings.NewFallbackEmbedder(16)
	store, err := NewChromaStore(config.ChromaConfig{
		Endpoint:       srv.URL,
		TimeoutSeconds: 5,
		RetryAttempts:  0,
		Collection:     "agent_memory",
	}, t.TempDir(), embedder)
	require.NoError(t, err)
	return store, queryResp
}

func TestChromaStoreAddDocumentUpsertsAndMirrors(t *testing.T) {
	store, _ := newTestChromaStore(t)
	ctx := context.Background()

	ids, err := store.AddDocument(ctx, "hello world content for chroma", types.ChunkMetadata{Source: "doc.md"}, 500, 0)
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	chunk, err := store.GetChunkById(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "hello world content for chroma", chunk.Content)
}

func TestChromaStoreSearchTranslatesResults(t *testing.T) {
	store, queryResp := newTestChromaStore(t)
	ctx := context.Background()

	*queryResp = chromaQueryResponse{
		IDs:       [][]string{{"doc:0"}},
		Documents: [][]string{{"matched content"}},
		Metadatas: [][]map[string]interface{}{{{"source": "doc.md", "chunk_index": float64(0)}}},
		Distances: [][]float64{{0.2}},
	}

	results, err := store.Search(ctx, []float64{0.1, 0.2}, 5, nil, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc:0", results[0].ChunkID)
	assert.InDelta(t, 0.8, results[0].Score, 1e-9)
	assert.Equal(t, "doc.md:0", results[0].Citation)
}

func TestChromaStoreSearchFiltersByMinScore(t *testing.T) {
	store, queryResp := newTestChromaStore(t)
	ctx := context.Background()

	*queryResp = chromaQueryResponse{
		IDs:       [][]string{{"doc:0"}},
		Documents: [][]string{{"low score content"}},
		Metadatas: [][]map[string]interface{}{{{}}},
		Distances: [][]float64{{0.9}},
	}

	results, err := store.Search(ctx, []float64{0.1, 0.2}, 5, nil, 0.5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromaStoreDeleteDocument(t *testing.T) {
	store, _ := newTestChromaStore(t)
	ctx := context.Background()

	ids, err := store.AddDocument(ctx, "content to be removed later", types.ChunkMetadata{Source: "gone.md"}, 500, 0)
	require.NoError(t, err)

	n, err := store.DeleteDocument(ctx, DocumentID("gone.md"))
	require.NoError(t, err)
	assert.Equal(t, len(ids), n)
}

func TestChromaStoreAllChunksDelegatesToMirror(t *testing.T) {
	store, _ := newTestChromaStore(t)
	ctx := context.Background()

	_, err := store.AddDocument(ctx, "mirror content", types.ChunkMetadata{Source: "m.md"}, 500, 0)
	require.NoError(t, err)

	assert.Len(t, store.AllChunks(), 1)
}
