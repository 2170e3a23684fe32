// Package project implements the ProjectManager: the tenant registry and
// on-disk layout described in spec.md §4.1 and §6.2. It is the single
// SQLite-backed registry that every other store keys off of, grounded in
// the teacher's use of github.com/mattn/go-sqlite3 for its transactional
// stores (internal/storage/task_repository.go, internal/storage/prd_repository.go).
package project

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var nameForbidden = regexp.MustCompile(`[/\\:*?"<>|]`)

// freeFormProjectID matches project ids supplied directly by a caller rather
// than minted by CreateProject (spec.md §4.2 validation invariant).
var freeFormProjectID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,150}$`)

const component = "project"

// Manager owns the base data directory and the registry SQLite database.
// Writes are serialized through a single mutex; reads may run concurrently
// since the registry is opened in WAL mode.
type Manager struct {
	baseDir string
	db      *sql.DB
	mu      sync.Mutex
}

// NewManager opens (creating if necessary) the registry database under
// baseDir/registry.db.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "NewManager", "failed to create data directory", err)
	}

	dsn := filepath.Join(baseDir, "registry.db")
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "NewManager", "failed to open registry database", err)
	}

	m := &Manager{baseDir: baseDir, db: db}
	if err := m.migrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	short_uuid TEXT NOT NULL,
	chroma_path TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	status TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
`
	if _, err := m.db.Exec(schema); err != nil {
		return errs.Wrap(errs.KindInternal, component, "migrate", "failed to apply registry schema", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (m *Manager) Close() error {
	return m.db.Close()
}

// validateName enforces the 1-100 char, forbidden-character-free, trimmed
// name invariant from spec.md §3.
func validateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > 100 {
		return "", errs.New(errs.KindInvalidArgument, component, "validateName", "name must be 1-100 characters")
	}
	if nameForbidden.MatchString(trimmed) {
		return "", errs.New(errs.KindInvalidArgument, component, "validateName", `name must not contain /\:*?"<>|`)
	}
	return trimmed, nil
}

// ValidateProjectID reports whether id is a syntactically valid project id:
// either minted by CreateProject (<name>-<8 hex>) or a free-form id matching
// the fallback pattern from spec.md §4.2.
func ValidateProjectID(id string) bool {
	if id == "" {
		return false
	}
	if i := strings.LastIndex(id, "-"); i > 0 && len(id)-i-1 == 8 && strings.Trim(id[i+1:], "0123456789abcdef") == "" {
		if name, err := validateName(id[:i]); err == nil && name == id[:i] {
			return true
		}
	}
	return freeFormProjectID.MatchString(id)
}

// CreateProject validates name, mints a project id, creates the on-disk
// layout, and inserts the registry row.
func (m *Manager) CreateProject(name string, metadata map[string]interface{}) (*types.Project, error) {
	trimmed, err := validateName(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, _ := m.getByName(trimmed); existing != nil {
		return nil, errs.New(errs.KindConflict, component, "CreateProject", fmt.Sprintf("project with name %q already exists", trimmed))
	}

	shortUUID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	projectID := fmt.Sprintf("%s-%s", trimmed, shortUUID)
	projectDir := filepath.Join(m.baseDir, projectID)
	chromaPath := filepath.Join(projectDir, "semantic_index")

	if err := os.MkdirAll(chromaPath, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "CreateProject", "failed to create project directory", err)
	}

	now := time.Now().UTC()
	p := &types.Project{
		ProjectID:     projectID,
		Name:          trimmed,
		ShortUUID:     shortUUID,
		ChromaPath:    chromaPath,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        types.ProjectStatusActive,
		Metadata:      metadata,
		SchemaVersion: 1,
	}

	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "CreateProject", "failed to marshal metadata", err)
	}

	_, err = m.db.Exec(
		`INSERT INTO projects (project_id, name, short_uuid, chroma_path, created_at, updated_at, status, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectID, p.Name, p.ShortUUID, p.ChromaPath,
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339), string(p.Status), metaJSON,
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "CreateProject", "failed to insert registry row", err)
	}

	if err := writeProjectManifest(projectDir, p); err != nil {
		return nil, err
	}

	return p, nil
}

// DeleteProject removes the project directory and registry row. Deleting an
// unknown id is idempotent and returns false.
func (m *Manager) DeleteProject(projectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.get(projectID)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	if _, err := m.db.Exec(`DELETE FROM projects WHERE project_id = ?`, projectID); err != nil {
		return false, errs.Wrap(errs.KindInternal, component, "DeleteProject", "failed to delete registry row", err)
	}

	projectDir := filepath.Join(m.baseDir, projectID)
	if err := os.RemoveAll(projectDir); err != nil {
		return false, errs.Wrap(errs.KindInternal, component, "DeleteProject", "failed to remove project directory", err)
	}

	return true, nil
}

// GetProject returns the project with the given id, or nil if none exists.
func (m *Manager) GetProject(projectID string) (*types.Project, error) {
	return m.get(projectID)
}

func (m *Manager) get(projectID string) (*types.Project, error) {
	row := m.db.QueryRow(`SELECT project_id, name, short_uuid, chroma_path, created_at, updated_at, status, metadata_json FROM projects WHERE project_id = ?`, projectID)
	return scanProject(row)
}

func (m *Manager) getByName(name string) (*types.Project, error) {
	row := m.db.QueryRow(`SELECT project_id, name, short_uuid, chroma_path, created_at, updated_at, status, metadata_json FROM projects WHERE name = ?`, name)
	return scanProject(row)
}

// ListProjects returns every project, optionally filtered by status.
func (m *Manager) ListProjects(status *types.ProjectStatus) ([]*types.Project, error) {
	query := `SELECT project_id, name, short_uuid, chroma_path, created_at, updated_at, status, metadata_json FROM projects`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "ListProjects", "failed to query registry", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProjectDir returns the on-disk directory owned by projectID, whether or
// not it currently exists in the registry.
func (m *Manager) GetProjectDir(projectID string) string {
	return filepath.Join(m.baseDir, projectID)
}

// ResolveOrCreate returns the existing project matching name (by name or by
// project_id), creating a new one if neither matches.
func (m *Manager) ResolveOrCreate(name string) (*types.Project, error) {
	if p, err := m.GetProject(name); err == nil && p != nil {
		return p, nil
	}

	m.mu.Lock()
	existing, err := m.getByName(strings.TrimSpace(name))
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	return m.CreateProject(name, nil)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row *sql.Row) (*types.Project, error) {
	return scanGeneric(row)
}

func scanProjectRows(rows *sql.Rows) (*types.Project, error) {
	return scanGeneric(rows)
}

func scanGeneric(s rowScanner) (*types.Project, error) {
	var (
		p                    types.Project
		createdAt, updatedAt string
		status               string
		metaJSON             string
	)
	err := s.Scan(&p.ProjectID, &p.Name, &p.ShortUUID, &p.ChromaPath, &createdAt, &updatedAt, &status, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "scan", "failed to scan project row", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	p.Status = types.ProjectStatus(status)
	p.SchemaVersion = 1
	p.Metadata, err = unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
