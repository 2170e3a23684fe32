// Package ingest implements the Ingestor described in spec.md §4.5: the
// read/text->chunk->embed->add pipeline that feeds the SemanticStore,
// grounded in the teacher's internal/chunking/chunker.go pipeline shape.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/semantic"
	"agent-memory-core/internal/types"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const component = "ingest"

// codeExtensions infers ChunkTypeCode for IngestFile callers who did not
// set a type explicitly.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".rb": true, ".rs": true, ".c": true, ".h": true, ".cpp": true,
	".cc": true, ".cs": true, ".php": true, ".sh": true, ".sql": true, ".yaml": true,
	".yml": true, ".json": true, ".toml": true,
}

// encodingFallbacks is tried in order until one produces valid UTF-8,
// mirroring common text-encoding fallback chains used by ingestion
// pipelines that must accept files of unknown provenance.
var encodingFallbacks = []encoding.Encoding{
	unicode.UTF8,
	unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// Ingestor wires a SemanticStore to the filesystem.
type Ingestor struct {
	store semantic.Store
}

// New constructs an Ingestor over store.
func New(store semantic.Store) *Ingestor {
	return &Ingestor{store: store}
}

// IngestText chunks, embeds, and adds raw text to the semantic store.
func (in *Ingestor) IngestText(ctx context.Context, text string, metadata types.ChunkMetadata, chunkSize, overlap int) ([]string, error) {
	return in.store.AddDocument(ctx, text, metadata, chunkSize, overlap)
}

// IngestFile reads path, decoding it with a fallback chain of common text
// encodings, infers the chunk type from the file extension when the caller
// left it unset, and ingests the decoded text.
func (in *Ingestor) IngestFile(ctx context.Context, path string, metadata types.ChunkMetadata, chunkSize, overlap int) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, component, "IngestFile", "failed to read file", err)
	}

	text, err := decodeWithFallback(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, component, "IngestFile", "failed to decode file with any known encoding", err)
	}

	if metadata.Source == "" {
		metadata.Source = path
	}
	if metadata.Type == "" {
		metadata.Type = inferType(path)
	}

	return in.IngestText(ctx, text, metadata, chunkSize, overlap)
}

func inferType(path string) types.ChunkSourceType {
	if codeExtensions[strings.ToLower(filepath.Ext(path))] {
		return types.ChunkTypeCode
	}
	return types.ChunkTypeDoc
}

// decodeWithFallback tries each encoding in encodingFallbacks in order,
// returning the first decoding whose output round-trips as valid UTF-8.
func decodeWithFallback(raw []byte) (string, error) {
	var lastErr error
	for _, enc := range encodingFallbacks {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			lastErr = err
			continue
		}
		if isValidUTF8(decoded) {
			return string(decoded), nil
		}
	}
	if lastErr == nil {
		lastErr = errs.New(errs.KindInvalidArgument, component, "decodeWithFallback", "no candidate encoding produced valid UTF-8")
	}
	return "", lastErr
}

func isValidUTF8(b []byte) bool {
	for i := 0; i < len(b); {
		r := b[i]
		if r < 0x80 {
			i++
			continue
		}
		size := utf8RuneSize(b[i:])
		if size == 0 {
			return false
		}
		i += size
	}
	return true
}

func utf8RuneSize(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	lead := b[0]
	switch {
	case lead&0xE0 == 0xC0 && len(b) >= 2:
		return 2
	case lead&0xF0 == 0xE0 && len(b) >= 3:
		return 3
	case lead&0xF8 == 0xF0 && len(b) >= 4:
		return 4
	default:
		return 0
	}
}

// IngestDirectory walks dir, skipping hidden directories, ingesting every
// file whose name matches pattern (a filepath.Match glob; empty matches
// everything), and returns the chunk ids produced for each ingested path.
func (in *Ingestor) IngestDirectory(ctx context.Context, dir string, pattern string, chunkSize, overlap int) (map[string][]string, error) {
	out := map[string][]string{}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if pattern != "" {
			matched, matchErr := filepath.Match(pattern, d.Name())
			if matchErr != nil {
				return matchErr
			}
			if !matched {
				return nil
			}
		}

		ids, ingestErr := in.IngestFile(ctx, path, types.ChunkMetadata{}, chunkSize, overlap)
		if ingestErr != nil {
			return ingestErr
		}
		out[path] = ids
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "IngestDirectory", "failed to walk directory", err)
	}
	return out, nil
}
