package semantic

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"
)

const component = "semantic"

// Store is the interface all three backends (legacy, chromadb and qdrant) implement, per
// spec.md §4.4's "both implement the same interface" requirement.
type Store interface {
	AddDocument(ctx context.Context, content string, metadata types.ChunkMetadata, chunkSize, overlap int) ([]string, error)
	GetChunkById(ctx context.Context, chunkID string) (*types.DocumentChunk, error)
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	Search(ctx context.Context, queryVec []float64, topK int, filters map[string]interface{}, minScore float64) ([]types.SearchResult, error)
	Save(ctx context.Context) error
	Load(ctx context.Context) error
	Close() error
}

// cosineSimilarity computes the cosine of the angle between a and b,
// returning 0 for mismatched lengths or zero-norm vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matchesFilters reports whether metadata satisfies every filter by exact
// equality or, for slice-valued filters, list membership.
func matchesFilters(metadata map[string]interface{}, filters map[string]interface{}) bool {
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if list, isList := want.([]interface{}); isList {
			found := false
			for _, v := range list {
				if v == got {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

// citation formats the spec.md §4.4 "source:chunk_index" citation string.
func citation(source string, chunkIndex int) string {
	if strings.TrimSpace(source) == "" {
		source = "unknown"
	}
	return source + ":" + strconv.Itoa(chunkIndex)
}

// singleton-per-path registry, spec.md §4.4's singleton-per-path invariant
// (fix for BUG-INGEST-01): two callers passing equivalent paths must
// receive the same store instance.
var (
	registryMu sync.Mutex
	registry   = map[string]Store{}
)

// OpenFunc constructs a fresh Store for a normalized index path; it is
// supplied by the caller so the registry stays backend-agnostic.
type OpenFunc func(normalizedPath string) (Store, error)

// realpath resolves path to an absolute, symlink-free path, mirroring
// internal/upload.Guard's realpath helper so two paths that are equivalent
// on disk (e.g. one reached via a symlinked project directory) normalize to
// the same registry key.
func realpath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// OpenSingleton returns the Store for indexPath, constructing it via open
// the first time indexPath (after normalization) is requested and reusing
// the same instance on every subsequent call.
func OpenSingleton(indexPath string, open OpenFunc) (Store, error) {
	normalized, err := realpath(indexPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, component, "OpenSingleton", "failed to normalize index path", err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[normalized]; ok {
		return existing, nil
	}

	store, err := open(normalized)
	if err != nil {
		return nil, err
	}
	registry[normalized] = store
	return store, nil
}

// ResetSingletons clears the process-wide store registry. Exposed for tests.
func ResetSingletons() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[string]Store{}
}

func newChunkMetadata(base types.ChunkMetadata, chunkIndex, totalChunks int) types.ChunkMetadata {
	m := base
	m.ChunkIndex = chunkIndex
	m.TotalChunks = totalChunks
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m
}
