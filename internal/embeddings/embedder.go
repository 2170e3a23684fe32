// Package embeddings implements the Embedder capability described in
// spec.md §4.13: batched text-to-vector mapping with a bounded LRU+TTL cache
// and a deterministic fallback, grounded in the teacher's
// internal/embeddings/interfaces.go and internal/embeddings/cache.go.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"agent-memory-core/internal/errs"
)

const component = "embeddings"

// Embedder maps text to fixed-dimension vectors. Embed is length-preserving:
// on success it returns one vector per input text, in order. On failure it
// returns an error and no vectors; a caller that keeps going (the semantic
// store) substitutes an empty vector for every text itself.
type Embedder interface {
	// Embed batches a slice of texts into vectors.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	// EmbedSingle embeds one string.
	EmbedSingle(ctx context.Context, text string) ([]float64, error)
	// Dimensions reports the fixed vector length this embedder produces.
	Dimensions() int
	// Name identifies the embedder for cache namespacing and logging.
	Name() string
}

// FallbackEmbedder is a deterministic, SHA-256-derived pseudo-embedding
// normalized to the unit sphere. It requires no network access or model
// weights, so the rest of the system remains testable and the engine
// degrades gracefully when a real model is unavailable (spec.md §4.13).
type FallbackEmbedder struct {
	dimensions int
}

// NewFallbackEmbedder creates a FallbackEmbedder producing vectors of the
// given dimension (defaulting to 256 when dimensions <= 0).
func NewFallbackEmbedder(dimensions int) *FallbackEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &FallbackEmbedder{dimensions: dimensions}
}

func (f *FallbackEmbedder) Dimensions() int { return f.dimensions }
func (f *FallbackEmbedder) Name() string    { return "fallback-sha256" }

// EmbedSingle derives a pseudo-embedding from repeated SHA-256 hashing of the
// text, expanding the 32-byte digest into f.dimensions float64 components,
// then L2-normalizes the result so cosine similarity behaves sensibly.
func (f *FallbackEmbedder) EmbedSingle(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, f.dimensions)
	seed := sha256.Sum256([]byte(text))

	block := seed
	for i := 0; i < f.dimensions; i++ {
		byteIdx := i % len(block)
		if i > 0 && byteIdx == 0 {
			block = sha256.Sum256(block[:])
		}
		// Spread 4 bytes per component for more variance than one byte would give.
		b0 := block[byteIdx]
		b1 := block[(byteIdx+1)%len(block)]
		b2 := block[(byteIdx+2)%len(block)]
		b3 := block[(byteIdx+3)%len(block)]
		u := binary.BigEndian.Uint32([]byte{b0, b1, b2, b3})
		vec[i] = (float64(u)/float64(math.MaxUint32))*2.0 - 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Embed embeds each text independently; the fallback embedder has no batch
// efficiency to gain from a native batch call.
func (f *FallbackEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, component, "Embed", "failed to compute fallback embedding", err)
		}
		out[i] = v
	}
	return out, nil
}
