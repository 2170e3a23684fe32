package project

import (
	"encoding/json"
	"os"
	"path/filepath"

	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"
)

func marshalMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMetadata(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "unmarshalMetadata", "failed to parse stored metadata", err)
	}
	return out, nil
}

// writeProjectManifest writes project.json mirroring the registry row, per
// spec.md §6.2's on-disk layout.
func writeProjectManifest(projectDir string, p *types.Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, component, "writeProjectManifest", "failed to marshal manifest", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, "project.json"), data, 0o644); err != nil {
		return errs.Wrap(errs.KindInternal, component, "writeProjectManifest", "failed to write manifest", err)
	}
	return nil
}
