package retrieval

import (
	"context"
	"testing"
	"time"

	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t))}
	}
	return out, nil
}
func (fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float64, error) {
	return []float64{float64(len(text))}, nil
}
func (fakeEmbedder) Dimensions() int { return 1 }
func (fakeEmbedder) Name() string    { return "fake" }

type fakeStore struct {
	results []types.SearchResult
}

func (f *fakeStore) AddDocument(ctx context.Context, content string, metadata types.ChunkMetadata, chunkSize, overlap int) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) GetChunkById(ctx context.Context, chunkID string) (*types.DocumentChunk, error) {
	return nil, nil
}
func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	return 0, nil
}
func (f *fakeStore) Search(ctx context.Context, queryVec []float64, topK int, filters map[string]interface{}, minScore float64) ([]types.SearchResult, error) {
	return f.results, nil
}
func (f *fakeStore) Save(ctx context.Context) error { return nil }
func (f *fakeStore) Load(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func TestSearchRejectsInvalidTrigger(t *testing.T) {
	r := New(&fakeStore{}, fakeEmbedder{})
	_, err := r.Search(context.Background(), "q", Options{Trigger: "not_a_real_trigger", TopK: 5})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidTrigger, errs.KindOf(err))
}

func TestSearchRanksAndTruncates(t *testing.T) {
	store := &fakeStore{results: []types.SearchResult{
		{ChunkID: "a", Score: 0.9, Metadata: map[string]interface{}{}},
		{ChunkID: "b", Score: 0.5, Metadata: map[string]interface{}{}},
		{ChunkID: "c", Score: 0.1, Metadata: map[string]interface{}{}},
	}}
	r := New(store, fakeEmbedder{})

	results, err := r.Search(context.Background(), "find the bug", Options{Trigger: types.TriggerExternalInfoNeeded, TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
	assert.InDelta(t, 0.63, results[0].Score, 0.001) // 0.7*0.9
}

func TestSearchFiltersByMinScore(t *testing.T) {
	store := &fakeStore{results: []types.SearchResult{
		{ChunkID: "a", Score: 0.9, Metadata: map[string]interface{}{}},
		{ChunkID: "b", Score: 0.05, Metadata: map[string]interface{}{}},
	}}
	r := New(store, fakeEmbedder{})

	results, err := r.Search(context.Background(), "q", Options{Trigger: types.TriggerExternalInfoNeeded, TopK: 10, MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestSearchDedupesAcrossExpansions(t *testing.T) {
	store := &fakeStore{results: []types.SearchResult{
		{ChunkID: "a", Score: 0.4, Metadata: map[string]interface{}{}},
	}}
	r := New(store, fakeEmbedder{})

	results, err := r.Search(context.Background(), "find the bug", Options{
		Trigger:        types.TriggerExternalInfoNeeded,
		TopK:           10,
		QueryExpansion: true,
		NumExpansions:  3,
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "the same chunk id returned for each expansion must be deduped")
}

func TestMetadataBoost(t *testing.T) {
	res := types.SearchResult{Metadata: map[string]interface{}{"type": "code"}}
	assert.Equal(t, 0.3, metadataBoost(res, "how do I implement this function"))
	assert.Equal(t, 0.0, metadataBoost(res, "what colors do you like"))
}

func TestRecencyBoost(t *testing.T) {
	assert.Equal(t, 0.0, recencyBoost(map[string]interface{}{}))
	assert.InDelta(t, 1.0, recencyBoost(map[string]interface{}{"created_at": time.Now()}), 1e-9)
	assert.Equal(t, 0.0, recencyBoost(map[string]interface{}{"created_at": time.Now().Add(-60 * 24 * time.Hour)}))
	assert.InDelta(t, 0.5, recencyBoost(map[string]interface{}{"created_at": time.Now().Add(-15 * 24 * time.Hour)}), 0.01)
}

func TestExpandIsDeterministicAndBounded(t *testing.T) {
	a := expand("how do i fix the bug", 3)
	b := expand("how do i fix the bug", 3)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), 3)
}
