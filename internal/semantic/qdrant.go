package semantic

import (
	"context"
	"fmt"
	"sort"

	"agent-memory-core/internal/config"
	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantPointNamespace seeds the UUIDv5 derivation of a point id from a
// chunk id; Qdrant point ids must be a UUID or an unsigned integer, but our
// chunk ids are "<document_id>:<index>" strings, so we derive a stable UUID
// and keep the original chunk id in the point payload.
var qdrantPointNamespace = uuid.MustParse("6ba7b815-9dad-11d1-80b4-00c04fd430c8")

func pointIDFor(chunkID string) *qdrant.PointId {
	id := uuid.NewSHA1(qdrantPointNamespace, []byte(chunkID))
	return qdrant.NewID(id.String())
}

// QdrantStore is the native-gRPC "qdrant" SemanticStore, grounded in the
// teacher's internal/storage/qdrant.go (client bootstrap, HNSW cosine
// collection, point upsert/search shape), adapted to chunk-level payloads
// instead of conversation chunks.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	embedder   embeddings.Embedder
	cache      *LegacyStore
}

// NewQdrantStore dials the Qdrant server described by cfg and ensures the
// target collection exists with cosine distance over embedder's dimension.
func NewQdrantStore(ctx context.Context, cfg config.QdrantConfig, collection string, indexDir string, embedder embeddings.Embedder) (*QdrantStore, error) {
	if collection == "" {
		collection = "agent_memory"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, component, "NewQdrantStore", "failed to create qdrant client", err)
	}

	mirror, err := NewLegacyStore(indexDir, embedder)
	if err != nil {
		return nil, err
	}

	s := &QdrantStore{client: client, collection: collection, embedder: embedder, cache: mirror}
	if err := s.ensureCollection(ctx, embedder.Dimensions()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dimensions int) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, component, "ensureCollection", "failed to list qdrant collections", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, component, "ensureCollection", fmt.Sprintf("failed to create collection %s", s.collection), err)
	}
	return nil
}

// AddDocument chunks/embeds content via the local mirror and upserts the
// resulting points into the Qdrant collection.
func (s *QdrantStore) AddDocument(ctx context.Context, content string, metadata types.ChunkMetadata, chunkSize, overlap int) ([]string, error) {
	ids, err := s.cache.AddDocument(ctx, content, metadata, chunkSize, overlap)
	if err != nil {
		return nil, err
	}

	var points []*qdrant.PointStruct
	for _, id := range ids {
		c, _ := s.cache.GetChunkById(ctx, id)
		if c == nil || len(c.Embedding) == 0 {
			continue
		}
		points = append(points, s.chunkToPoint(c))
	}

	if len(points) > 0 {
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: s.collection, Points: points}); err != nil {
			return nil, errs.Wrap(errs.KindDependencyUnavailable, component, "AddDocument", "failed to upsert into qdrant", err)
		}
	}
	return ids, nil
}

func (s *QdrantStore) chunkToPoint(c *types.DocumentChunk) *qdrant.PointStruct {
	vec := make([]float32, len(c.Embedding))
	for i, v := range c.Embedding {
		vec[i] = float32(v)
	}

	payload := chunkMetadataMap(c.Metadata)
	payload["chunk_id"] = c.ChunkID
	payload["document_id"] = c.DocumentID
	payload["content"] = c.Content

	return &qdrant.PointStruct{
		Id:      pointIDFor(c.ChunkID),
		Vectors: qdrant.NewVectors(vec...),
		Payload: qdrant.NewValueMap(payload),
	}
}

// GetChunkById is served from the local mirror.
func (s *QdrantStore) GetChunkById(ctx context.Context, chunkID string) (*types.DocumentChunk, error) {
	return s.cache.GetChunkById(ctx, chunkID)
}

// DeleteDocument removes the document's points from Qdrant and the mirror.
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	n, err := s.cache.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return n, errs.Wrap(errs.KindDependencyUnavailable, component, "DeleteDocument", "failed to delete from qdrant", err)
	}
	return n, nil
}

// Search queries the Qdrant collection for nearest neighbors to queryVec.
func (s *QdrantStore) Search(ctx context.Context, queryVec []float64, topK int, filters map[string]interface{}, minScore float64) ([]types.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	vec := make([]float32, len(queryVec))
	for i, v := range queryVec {
		vec[i] = float32(v)
	}

	var filter *qdrant.Filter
	if len(filters) > 0 {
		var conditions []*qdrant.Condition
		for k, v := range filters {
			if s, ok := v.(string); ok {
				conditions = append(conditions, qdrant.NewMatch(k, s))
			}
		}
		if len(conditions) > 0 {
			filter = &qdrant.Filter{Must: conditions}
		}
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
		ScoreThreshold: qdrant.PtrOf(float32(minScore)),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, component, "Search", "failed to query qdrant", err)
	}

	var out []types.SearchResult
	for _, p := range points {
		payload := p.GetPayload()
		meta := map[string]interface{}{}
		for k, v := range payload {
			meta[k] = v.GetStringValue()
		}

		chunkID := ""
		if v, ok := payload["chunk_id"]; ok {
			chunkID = v.GetStringValue()
		}
		documentID := ""
		if v, ok := payload["document_id"]; ok {
			documentID = v.GetStringValue()
		}
		content := ""
		if v, ok := payload["content"]; ok {
			content = v.GetStringValue()
		}
		source := "unknown"
		if v, ok := payload["source"]; ok {
			source = v.GetStringValue()
		}
		chunkIndex := 0
		if v, ok := payload["chunk_index"]; ok {
			chunkIndex = int(v.GetIntegerValue())
		}

		out = append(out, types.SearchResult{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Content:    content,
			Score:      float64(p.GetScore()),
			Metadata:   meta,
			ChunkIndex: chunkIndex,
			Citation:   citation(source, chunkIndex),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Save persists the local mirror; Qdrant itself owns durability server-side.
func (s *QdrantStore) Save(ctx context.Context) error { return s.cache.Save(ctx) }

// Load restores the local mirror from disk.
func (s *QdrantStore) Load(ctx context.Context) error { return s.cache.Load(ctx) }

// Close releases the gRPC client connection.
func (s *QdrantStore) Close() error {
	if err := s.client.Close(); err != nil {
		return errs.Wrap(errs.KindInternal, component, "Close", "failed to close qdrant client", err)
	}
	return s.cache.Close()
}

// AllChunks returns every chunk held by the local mirror.
func (s *QdrantStore) AllChunks() []*types.DocumentChunk { return s.cache.AllChunks() }
