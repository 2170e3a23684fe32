package semantic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"agent-memory-core/internal/config"
	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/go-resty/resty/v2"
)

// ChromaStore is the HTTP-backed "chromadb" SemanticStore, grounded in the
// teacher's internal/storage/chroma.go (same client setup, retry policy,
// and collection bootstrap), adapted to the chunk-centric data model used
// here instead of conversation chunks.
type ChromaStore struct {
	client     *resty.Client
	collection string
	embedder   embeddings.Embedder
	cache      *LegacyStore // mirrors server-side state locally for GetChunkById/filters not natively supported
}

type chromaCollection struct {
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

type chromaDocument struct {
	ID        string                 `json:"id"`
	Embedding []float64              `json:"embedding"`
	Document  string                 `json:"document"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type chromaQueryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float64                `json:"distances"`
}

// NewChromaStore constructs a ChromaStore over the HTTP collection described
// by cfg, and a local mirror (in indexDir) used for operations the Chroma
// REST API does not expose directly (chunk lookup by id, forbidden-content
// pre-check bookkeeping).
func NewChromaStore(cfg config.ChromaConfig, indexDir string, embedder embeddings.Embedder) (*ChromaStore, error) {
	client := resty.New()
	client.SetBaseURL(cfg.Endpoint)
	client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	client.SetRetryCount(cfg.RetryAttempts)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	collection := cfg.Collection
	if collection == "" {
		collection = "agent_memory"
	}

	mirror, err := NewLegacyStore(indexDir, embedder)
	if err != nil {
		return nil, err
	}

	s := &ChromaStore{client: client, collection: collection, embedder: embedder, cache: mirror}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChromaStore) ensureCollection(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).SetResult([]chromaCollection{}).Get("/api/v1/collections")
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, component, "ensureCollection", "failed to list chroma collections", err)
	}

	collections, _ := resp.Result().(*[]chromaCollection)
	if collections != nil {
		for _, c := range *collections {
			if c.Name == s.collection {
				return nil
			}
		}
	}

	createReq := map[string]interface{}{
		"name":     s.collection,
		"metadata": map[string]interface{}{"created_at": time.Now().UTC().Format(time.RFC3339)},
	}
	resp, err = s.client.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(createReq).Post("/api/v1/collections")
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, component, "ensureCollection", "failed to create chroma collection", err)
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 201 {
		return errs.New(errs.KindDependencyUnavailable, component, "ensureCollection", fmt.Sprintf("chroma returned status %d creating collection", resp.StatusCode()))
	}
	return nil
}

// AddDocument chunks and embeds content exactly as LegacyStore does, then
// upserts the resulting chunks into the remote Chroma collection and the
// local mirror (used for id lookups and cancellation rollback).
func (s *ChromaStore) AddDocument(ctx context.Context, content string, metadata types.ChunkMetadata, chunkSize, overlap int) ([]string, error) {
	ids, err := s.cache.AddDocument(ctx, content, metadata, chunkSize, overlap)
	if err != nil {
		return nil, err
	}

	var docs []chromaDocument
	for _, id := range ids {
		c, _ := s.cache.GetChunkById(ctx, id)
		if c == nil || len(c.Embedding) == 0 {
			continue
		}
		docs = append(docs, chromaDocument{
			ID:        c.ChunkID,
			Embedding: c.Embedding,
			Document:  c.Content,
			Metadata:  chunkMetadataMap(c.Metadata),
		})
	}

	if len(docs) > 0 {
		upsertReq := map[string]interface{}{
			"ids":        docIDs(docs),
			"embeddings": docEmbeddings(docs),
			"documents":  docBodies(docs),
			"metadatas":  docMetadatas(docs),
		}
		resp, err := s.client.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(upsertReq).
			Post(fmt.Sprintf("/api/v1/collections/%s/upsert", s.collection))
		if err != nil {
			return nil, errs.Wrap(errs.KindDependencyUnavailable, component, "AddDocument", "failed to upsert into chroma", err)
		}
		if resp.StatusCode() >= 300 {
			return nil, errs.New(errs.KindDependencyUnavailable, component, "AddDocument", fmt.Sprintf("chroma returned status %d on upsert", resp.StatusCode()))
		}
	}

	return ids, nil
}

func docIDs(docs []chromaDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func docEmbeddings(docs []chromaDocument) [][]float64 {
	out := make([][]float64, len(docs))
	for i, d := range docs {
		out[i] = d.Embedding
	}
	return out
}

func docBodies(docs []chromaDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Document
	}
	return out
}

func docMetadatas(docs []chromaDocument) []map[string]interface{} {
	out := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		out[i] = d.Metadata
	}
	return out
}

// GetChunkById is served from the local mirror; Chroma's REST API has no
// efficient single-id fetch that also returns our full metadata shape.
func (s *ChromaStore) GetChunkById(ctx context.Context, chunkID string) (*types.DocumentChunk, error) {
	return s.cache.GetChunkById(ctx, chunkID)
}

// DeleteDocument removes the document's chunks from both Chroma and the
// local mirror.
func (s *ChromaStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	n, err := s.cache.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	deleteReq := map[string]interface{}{
		"where": map[string]interface{}{"document_id": documentID},
	}
	resp, err := s.client.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(deleteReq).
		Post(fmt.Sprintf("/api/v1/collections/%s/delete", s.collection))
	if err != nil {
		return n, errs.Wrap(errs.KindDependencyUnavailable, component, "DeleteDocument", "failed to delete from chroma", err)
	}
	if resp.StatusCode() >= 300 {
		return n, errs.New(errs.KindDependencyUnavailable, component, "DeleteDocument", fmt.Sprintf("chroma returned status %d on delete", resp.StatusCode()))
	}
	return n, nil
}

// Search queries the remote Chroma collection for nearest neighbors to
// queryVec, translating results into the shared SearchResult shape.
func (s *ChromaStore) Search(ctx context.Context, queryVec []float64, topK int, filters map[string]interface{}, minScore float64) ([]types.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	queryReq := map[string]interface{}{
		"query_embeddings": [][]float64{queryVec},
		"n_results":        topK,
	}
	if len(filters) > 0 {
		queryReq["where"] = filters
	}

	var result chromaQueryResponse
	resp, err := s.client.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(queryReq).SetResult(&result).
		Post(fmt.Sprintf("/api/v1/collections/%s/query", s.collection))
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, component, "Search", "failed to query chroma", err)
	}
	if resp.StatusCode() >= 300 {
		return nil, errs.New(errs.KindDependencyUnavailable, component, "Search", fmt.Sprintf("chroma returned status %d on query", resp.StatusCode()))
	}

	var out []types.SearchResult
	if len(result.IDs) == 0 {
		return out, nil
	}

	for i, id := range result.IDs[0] {
		distance := 0.0
		if i < len(result.Distances[0]) {
			distance = result.Distances[0][i]
		}
		score := 1.0 - distance
		if score < minScore {
			continue
		}

		meta := map[string]interface{}{}
		if i < len(result.Metadatas[0]) {
			meta = result.Metadatas[0][i]
		}
		content := ""
		if i < len(result.Documents[0]) {
			content = result.Documents[0][i]
		}
		chunkIndex := 0
		source := "unknown"
		documentID := ""
		if v, ok := meta["chunk_index"].(float64); ok {
			chunkIndex = int(v)
		}
		if v, ok := meta["source"].(string); ok {
			source = v
		}
		if v, ok := meta["document_id"].(string); ok {
			documentID = v
		}

		out = append(out, types.SearchResult{
			ChunkID:    id,
			DocumentID: documentID,
			Content:    content,
			Score:      score,
			Metadata:   meta,
			ChunkIndex: chunkIndex,
			Citation:   citation(source, chunkIndex),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Save persists the local mirror; Chroma itself is durable server-side.
func (s *ChromaStore) Save(ctx context.Context) error { return s.cache.Save(ctx) }

// Load restores the local mirror from disk.
func (s *ChromaStore) Load(ctx context.Context) error { return s.cache.Load(ctx) }

// Close releases the local mirror; the HTTP client owns no resources to release.
func (s *ChromaStore) Close() error { return s.cache.Close() }

// AllChunks returns every chunk held by the local mirror.
func (s *ChromaStore) AllChunks() []*types.DocumentChunk { return s.cache.AllChunks() }
