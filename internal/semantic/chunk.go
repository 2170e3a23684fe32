// Package semantic implements the SemanticStore described in spec.md §4.4:
// deterministic chunking, a forbidden-content guard, cosine-similarity
// search, and three interchangeable backends (legacy JSON+cosine, chromadb
// and qdrant). Grounded in the teacher's internal/chunking/chunker.go for the
// greedy-paragraph splitting shape and internal/decay/summarizer.go for the
// cosine similarity math.
package semantic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// DefaultChunkSize is the target chunk size in characters.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is the number of trailing characters carried
	// forward from the previous chunk.
	DefaultChunkOverlap = 50
)

// DocumentID derives a stable id for a source path or content key, so that
// re-ingesting the same path yields the same document id.
func DocumentID(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:16]
}

// ChunkID composes the chunk id from its owning document and index.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// Chunk splits text into a deterministic list of chunk bodies following
// spec.md §4.4's algorithm:
//  1. split by blank-line paragraphs
//  2. greedily concatenate paragraphs into buffers of <= chunkSize chars
//  3. oversized paragraphs are split on sentence boundaries using the same
//     greedy rule
//  4. every chunk but the first is prefixed with an overlap banner carrying
//     the last `overlap` characters of the previous chunk
func Chunk(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}

	paragraphs := splitParagraphs(text)

	var buffers []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			buffers = append(buffers, current.String())
			current.Reset()
		}
	}

	appendGreedy := func(piece string) {
		if current.Len() > 0 && current.Len()+len(piece)+2 > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
	}

	for _, p := range paragraphs {
		if len(p) > chunkSize {
			flush()
			for _, sentencePiece := range greedySentences(p, chunkSize) {
				buffers = append(buffers, sentencePiece)
			}
			continue
		}
		appendGreedy(p)
	}
	flush()

	return withOverlap(buffers, overlap)
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// greedySentences splits an oversized paragraph on ". " sentence boundaries,
// greedily concatenating sentences into buffers of <= chunkSize chars.
func greedySentences(paragraph string, chunkSize int) []string {
	sentences := strings.Split(paragraph, ". ")
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for i, s := range sentences {
		piece := s
		if i < len(sentences)-1 {
			piece += "."
		}
		if current.Len() > 0 && current.Len()+len(piece)+1 > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(piece)

		// A single sentence longer than chunkSize on its own still needs to
		// become its own chunk rather than growing unbounded.
		if current.Len() > chunkSize {
			flush()
		}
	}
	flush()

	return out
}

func withOverlap(buffers []string, overlap int) []string {
	if overlap <= 0 || len(buffers) < 2 {
		return buffers
	}

	out := make([]string, len(buffers))
	out[0] = buffers[0]
	for i := 1; i < len(buffers); i++ {
		prev := buffers[i-1]
		tail := prev
		if len(tail) > overlap {
			tail = tail[len(tail)-overlap:]
		}
		out[i] = fmt.Sprintf("…%s…\n%s", tail, buffers[i])
	}
	return out
}
