// Package upload implements the RemoteUploadGuard described in spec.md
// §4.12: a sandbox that remote clients stage files into before asking the
// server to ingest them, validated with a realpath-based prefix check to
// prevent path traversal out of the sandbox.
package upload

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"agent-memory-core/internal/errs"
)

const component = "upload"

// Guard validates file paths against a configured upload sandbox.
type Guard struct {
	Enabled       bool
	Directory     string
	MaxAgeSeconds int
	MaxFileSizeMB int
}

// NewGuard constructs a Guard from the given settings.
func NewGuard(enabled bool, directory string, maxAgeSeconds, maxFileSizeMB int) *Guard {
	return &Guard{Enabled: enabled, Directory: directory, MaxAgeSeconds: maxAgeSeconds, MaxFileSizeMB: maxFileSizeMB}
}

// Validate runs the spec.md §4.12 algorithm against filePath, returning the
// resolved real path on success.
func (g *Guard) Validate(filePath string) (string, error) {
	if !g.Enabled {
		return "", errs.New(errs.KindUploadRejected, component, "Validate", "remote file upload is disabled")
	}

	sandboxReal, err := realpath(g.Directory)
	if err != nil {
		return "", errs.Wrap(errs.KindUploadRejected, component, "Validate", "failed to resolve sandbox directory", err)
	}

	fileReal, err := realpath(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			if parentReal, perr := realpath(filepath.Dir(filePath)); perr == nil && withinDirectory(sandboxReal, parentReal) {
				return "", errs.Wrap(errs.KindNotFound, component, "Validate", "file does not exist", err)
			}
		}
		return "", errs.Wrap(errs.KindUploadRejected, component, "Validate", "failed to resolve file path", err)
	}

	if !withinDirectory(sandboxReal, fileReal) {
		return "", errs.New(errs.KindUploadRejected, component, "Validate", "file path is outside the upload sandbox")
	}

	info, err := os.Stat(fileReal)
	if err != nil {
		return "", errs.Wrap(errs.KindNotFound, component, "Validate", "file does not exist", err)
	}
	if !info.Mode().IsRegular() {
		return "", errs.New(errs.KindUploadRejected, component, "Validate", "path is not a regular file")
	}

	maxBytes := int64(g.MaxFileSizeMB) * 1024 * 1024
	if info.Size() > maxBytes {
		return "", errs.New(errs.KindUploadRejected, component, "Validate", "file exceeds the configured maximum size")
	}

	return fileReal, nil
}

// realpath resolves path to an absolute, symlink-free path.
func realpath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// withinDirectory reports whether target is dir itself or a descendant of it.
func withinDirectory(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// CleanupOldUploads removes regular files older than MaxAgeSeconds from the
// sandbox directory. Invoked at the start of every ingest_file call.
func (g *Guard) CleanupOldUploads() (int, error) {
	if !g.Enabled {
		return 0, nil
	}

	entries, err := os.ReadDir(g.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindInternal, component, "CleanupOldUploads", "failed to read sandbox directory", err)
	}

	cutoff := time.Now().Add(-time.Duration(g.MaxAgeSeconds) * time.Second)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(g.Directory, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// IsWithinSandbox reports whether realPath lies under the sandbox directory,
// used by the façade to decide whether to schedule post-ingest deletion.
func (g *Guard) IsWithinSandbox(realPath string) bool {
	sandboxReal, err := realpath(g.Directory)
	if err != nil {
		return false
	}
	return withinDirectory(sandboxReal, realPath)
}
