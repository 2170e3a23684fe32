package semantic

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/google/uuid"
)

// LegacyStore is the in-process, file-backed JSON+cosine SemanticStore
// (spec.md §4.4's "legacy" vector_backend). It keeps every chunk in memory
// and persists the whole index as a single manifest, grounded in the
// teacher's internal/storage/mock_store.go in-memory vector store shape.
type LegacyStore struct {
	mu       sync.RWMutex
	indexDir string
	embedder embeddings.Embedder
	chunks   map[string]*types.DocumentChunk
	byDoc    map[string][]string
}

// legacyManifest is the on-disk shape of chunks.json.
type legacyManifest struct {
	Chunks []*types.DocumentChunk `json:"chunks"`
}

// NewLegacyStore constructs a LegacyStore rooted at indexDir, loading any
// existing chunks.json manifest.
func NewLegacyStore(indexDir string, embedder embeddings.Embedder) (*LegacyStore, error) {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "NewLegacyStore", "failed to create index directory", err)
	}
	s := &LegacyStore{
		indexDir: indexDir,
		embedder: embedder,
		chunks:   map[string]*types.DocumentChunk{},
		byDoc:    map[string][]string{},
	}
	if err := s.Load(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LegacyStore) manifestPath() string {
	return filepath.Join(s.indexDir, "chunks.json")
}

// AddDocument chunks content, embeds each chunk, runs the forbidden-content
// guard, and stores the chunks in memory (visible to Search only after Save
// completes, per spec.md §4.4's cancellation-safety rule).
func (s *LegacyStore) AddDocument(ctx context.Context, content string, metadata types.ChunkMetadata, chunkSize, overlap int) ([]string, error) {
	if reason := CheckForbiddenContent(content, metadataToMap(metadata)); reason != "" {
		return nil, errs.New(errs.KindForbiddenContent, component, "AddDocument", reason)
	}

	documentID := metadata.DocumentID
	if documentID == "" {
		documentID = DocumentID(metadata.Source)
		metadata.DocumentID = documentID
	}

	bodies := Chunk(content, chunkSize, overlap)
	newChunks := make([]*types.DocumentChunk, 0, len(bodies))
	vectors, err := s.embedBodies(ctx, bodies)
	if err != nil {
		return nil, err
	}

	for i, body := range bodies {
		cm := newChunkMetadata(metadata, i, len(bodies))
		newChunks = append(newChunks, &types.DocumentChunk{
			ChunkID:    ChunkID(documentID, i),
			DocumentID: documentID,
			Content:    body,
			Embedding:  vectors[i],
			Metadata:   cm,
			ChunkIndex: i,
			ProjectID:  projectIDFromExtra(metadata.Extra),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-ingesting the same path replaces the previous chunk set rather
	// than appending to it, so add→delete→add yields the same chunk set
	// as the first add (spec.md §8 idempotence law).
	s.removeDocumentLocked(documentID)

	ids := make([]string, 0, len(newChunks))
	for _, c := range newChunks {
		s.chunks[c.ChunkID] = c
		s.byDoc[documentID] = append(s.byDoc[documentID], c.ChunkID)
		ids = append(ids, c.ChunkID)
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return ids, nil
}

// embedBodies embeds every chunk body; a failure for an individual chunk is
// not fatal (spec.md §4.4: stored with an empty vector, ineligible for
// search until re-embedded).
func (s *LegacyStore) embedBodies(ctx context.Context, bodies []string) ([][]float64, error) {
	if s.embedder == nil {
		return make([][]float64, len(bodies)), nil
	}
	vectors, err := s.embedder.Embed(ctx, bodies)
	if err != nil {
		return make([][]float64, len(bodies)), nil
	}
	return vectors, nil
}

func projectIDFromExtra(extra map[string]interface{}) string {
	if extra == nil {
		return ""
	}
	if v, ok := extra["project_id"].(string); ok {
		return v
	}
	return ""
}

func metadataToMap(m types.ChunkMetadata) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// GetChunkById returns the chunk with the given id, or nil if none exists.
func (s *LegacyStore) GetChunkById(ctx context.Context, chunkID string) (*types.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks[chunkID], nil
}

// DeleteDocument removes every chunk belonging to documentID and returns the
// count removed.
func (s *LegacyStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.removeDocumentLocked(documentID)
	if err := s.saveLocked(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *LegacyStore) removeDocumentLocked(documentID string) int {
	ids := s.byDoc[documentID]
	for _, id := range ids {
		delete(s.chunks, id)
	}
	delete(s.byDoc, documentID)
	return len(ids)
}

// Search runs brute-force cosine similarity against every chunk whose
// metadata satisfies filters, skipping chunks with empty embeddings.
func (s *LegacyStore) Search(ctx context.Context, queryVec []float64, topK int, filters map[string]interface{}, minScore float64) ([]types.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []types.SearchResult
	for _, c := range s.chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		meta := chunkMetadataMap(c.Metadata)
		if filters != nil && !matchesFilters(meta, filters) {
			continue
		}

		score := cosineSimilarity(queryVec, c.Embedding)
		if score < minScore {
			continue
		}

		results = append(results, types.SearchResult{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Score:      score,
			Metadata:   meta,
			ChunkIndex: c.ChunkIndex,
			Citation:   citation(c.Metadata.Source, c.ChunkIndex),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func chunkMetadataMap(m types.ChunkMetadata) map[string]interface{} {
	out := map[string]interface{}{
		"source":       m.Source,
		"type":         string(m.Type),
		"document_id":  m.DocumentID,
		"chunk_index":  m.ChunkIndex,
		"total_chunks": m.TotalChunks,
		"created_at":   m.CreatedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// Save persists the entire in-memory chunk set to chunks.json.
func (s *LegacyStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *LegacyStore) saveLocked() error {
	manifest := legacyManifest{Chunks: make([]*types.DocumentChunk, 0, len(s.chunks))}
	for _, c := range s.chunks {
		manifest.Chunks = append(manifest.Chunks, c)
	}
	sort.Slice(manifest.Chunks, func(i, j int) bool { return manifest.Chunks[i].ChunkID < manifest.Chunks[j].ChunkID })

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, component, "Save", "failed to marshal manifest", err)
	}

	tmp := s.manifestPath() + "." + uuid.New().String() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindInternal, component, "Save", "failed to write manifest", err)
	}
	if err := os.Rename(tmp, s.manifestPath()); err != nil {
		return errs.Wrap(errs.KindInternal, component, "Save", "failed to finalize manifest", err)
	}
	return nil
}

// Load restores the in-memory chunk set from chunks.json, if present.
func (s *LegacyStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.manifestPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindInternal, component, "Load", "failed to read manifest", err)
	}

	var manifest legacyManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return errs.Wrap(errs.KindInternal, component, "Load", "failed to parse manifest", err)
	}

	s.chunks = map[string]*types.DocumentChunk{}
	s.byDoc = map[string][]string{}
	for _, c := range manifest.Chunks {
		s.chunks[c.ChunkID] = c
		s.byDoc[c.DocumentID] = append(s.byDoc[c.DocumentID], c.ChunkID)
	}
	return nil
}

// Close is a no-op for the legacy store; state lives entirely on disk via Save.
func (s *LegacyStore) Close() error { return nil }

// AllChunks returns every chunk currently held by the store, used by
// list_sources to aggregate per-source chunk counts.
func (s *LegacyStore) AllChunks() []*types.DocumentChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.DocumentChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out
}
