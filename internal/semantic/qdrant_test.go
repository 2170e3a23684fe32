package semantic

import (
	"testing"

	"agent-memory-core/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestPointIDForIsDeterministic(t *testing.T) {
	a := pointIDFor("doc123:0")
	b := pointIDFor("doc123:0")
	assert.Equal(t, a.GetUuid(), b.GetUuid())
}

func TestPointIDForDiffersAcrossChunks(t *testing.T) {
	a := pointIDFor("doc123:0")
	b := pointIDFor("doc123:1")
	assert.NotEqual(t, a.GetUuid(), b.GetUuid())
}

func TestChunkToPointMapsFields(t *testing.T) {
	s := &QdrantStore{}
	chunk := &types.DocumentChunk{
		ChunkID:    "doc:0",
		DocumentID: "doc",
		Content:    "chunk body",
		Embedding:  []float64{0.1, 0.2, 0.3},
		Metadata:   types.ChunkMetadata{Source: "doc.md", Type: types.ChunkTypeDoc},
	}

	point := s.chunkToPoint(chunk)
	assert.Equal(t, pointIDFor("doc:0").GetUuid(), point.GetId().GetUuid())

	vec := point.GetVectors().GetVector().GetData()
	assert.Len(t, vec, 3)
	assert.InDelta(t, 0.1, vec[0], 1e-6)

	payload := point.GetPayload()
	assert.Equal(t, "doc:0", payload["chunk_id"].GetStringValue())
	assert.Equal(t, "doc", payload["document_id"].GetStringValue())
	assert.Equal(t, "chunk body", payload["content"].GetStringValue())
	assert.Equal(t, "doc.md", payload["source"].GetStringValue())
}
