// Package symbolic implements the transactional store of authoritative
// MemoryFacts described in spec.md §4.2, one SQLite database per project
// (memory.db), grounded in the teacher's SQLite-backed repositories
// (internal/storage/task_repository.go, internal/storage/prd_repository.go).
package symbolic

import (
	"database/sql"
	"encoding/json"
	"fmt"
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

const component = "symbolic"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,200}$`)

var allowedCategories = map[types.FactCategory]bool{
	types.CategoryPreference: true,
	types.CategoryConstraint: true,
	types.CategoryDecision:   true,
	types.CategoryFact:       true,
}

// AuditOperation enumerates the kinds of mutation recorded in audit_log.
type AuditOperation string

const (
	AuditCreate AuditOperation = "create"
	AuditUpdate AuditOperation = "update"
	AuditDelete AuditOperation = "delete"
)

// AuditEntry is a single row of the audit_log table.
type AuditEntry struct {
	ID         int64          `json:"id"`
	FactID     string         `json:"fact_id"`
	Operation  AuditOperation `json:"operation"`
	Before     string         `json:"before_json,omitempty"`
	After      string         `json:"after_json,omitempty"`
	ChangedBy  string         `json:"changed_by"`
	ChangedAt  time.Time      `json:"changed_at"`
}

// Stats summarizes the symbolic store for one project.
type Stats struct {
	TotalFacts       int64            `json:"total_facts"`
	FactsByCategory  map[string]int64 `json:"facts_by_category"`
}

// Store is a per-project SQLite-backed SymbolicStore.
type Store struct {
	db        *sql.DB
	projectID string
	mu        sync.Mutex
}

// Open opens (creating if necessary) the symbolic store for a project at
// <projectDir>/memory.db.
func Open(projectDir, projectID string) (*Store, error) {
	dsn := filepath.Join(projectDir, "memory.db")
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "Open", "failed to open symbolic store", err)
	}
	s := &Store{db: db, projectID: projectID}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS memory_facts (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	category TEXT NOT NULL,
	key TEXT NOT NULL,
	value_json TEXT NOT NULL,
	confidence REAL NOT NULL,
	source TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(project_id, key)
);
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fact_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	before_json TEXT,
	after_json TEXT,
	changed_by TEXT NOT NULL,
	changed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_facts_category ON memory_facts(category);
`
	if _, err := s.db.Exec(schema); err != nil {
		return errs.Wrap(errs.KindInternal, component, "migrate", "failed to apply symbolic schema", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func validateFact(f *types.MemoryFact) error {
	if !allowedCategories[f.Category] {
		return errs.New(errs.KindInvalidArgument, component, "validateFact", fmt.Sprintf("invalid category %q", f.Category))
	}
	if f.Confidence < 0.0 || f.Confidence > 1.0 {
		return errs.New(errs.KindInvalidArgument, component, "validateFact", "confidence must be in [0,1]")
	}
	if !keyPattern.MatchString(f.Key) {
		return errs.New(errs.KindInvalidArgument, component, "validateFact", "key must match ^[A-Za-z0-9_.-]{1,200}$")
	}
	return nil
}

// StoreMemory upserts a fact by (project_id, key). On update, the audit log
// records before/after. Writing the same value for an existing key returns
// the existing row unchanged (spec.md §4.2 conflict-free write).
func (s *Store) StoreMemory(f *types.MemoryFact) (*types.MemoryFact, error) {
	if err := validateFact(f); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getByKey(f.Key)
	if err != nil {
		return nil, err
	}

	valueJSON, err := json.Marshal(f.Value)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, component, "StoreMemory", "failed to marshal fact value", err)
	}

	// Timestamps are stored as RFC3339 (second precision); truncate so the
	// returned fact matches the stored row.
	now := time.Now().UTC().Truncate(time.Second)

	if existing != nil {
		existingValueJSON, _ := json.Marshal(existing.Value)
		if string(existingValueJSON) == string(valueJSON) {
			return existing, nil
		}

		beforeJSON, _ := json.Marshal(existing)
		f.ID = existing.ID
		f.ProjectID = existing.ProjectID
		f.CreatedAt = existing.CreatedAt
		f.UpdatedAt = now
		if f.Source == "" {
			f.Source = existing.Source
		}

		_, err = s.db.Exec(
			`UPDATE memory_facts SET category=?, value_json=?, confidence=?, source=?, updated_at=? WHERE id=?`,
			string(f.Category), string(valueJSON), f.Confidence, string(f.Source), f.UpdatedAt.Format(time.RFC3339), f.ID,
		)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, component, "StoreMemory", "failed to update fact", err)
		}

		afterJSON, _ := json.Marshal(f)
		if err := s.audit(f.ID, AuditUpdate, string(beforeJSON), string(afterJSON), string(f.Source)); err != nil {
			return nil, err
		}
		return f, nil
	}

	f.ID = uuid.New().String()
	f.ProjectID = s.projectID
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err = s.db.Exec(
		`INSERT INTO memory_facts (id, project_id, category, key, value_json, confidence, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, string(f.Category), f.Key, string(valueJSON), f.Confidence, string(f.Source),
		f.CreatedAt.Format(time.RFC3339), f.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "StoreMemory", "failed to insert fact", err)
	}

	afterJSON, _ := json.Marshal(f)
	if err := s.audit(f.ID, AuditCreate, "", string(afterJSON), string(f.Source)); err != nil {
		return nil, err
	}

	return f, nil
}

func (s *Store) audit(factID string, op AuditOperation, before, after, changedBy string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (fact_id, operation, before_json, after_json, changed_by, changed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		factID, string(op), before, after, changedBy, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errs.Wrap(errs.KindInternal, component, "audit", "failed to write audit entry", err)
	}
	return nil
}

func (s *Store) getByKey(key string) (*types.MemoryFact, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, category, key, value_json, confidence, source, created_at, updated_at
		 FROM memory_facts WHERE project_id = ? AND key = ?`, s.projectID, key)
	return scanFact(row)
}

// GetFactById returns the fact with the given id, or nil if none exists.
func (s *Store) GetFactById(id string) (*types.MemoryFact, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, category, key, value_json, confidence, source, created_at, updated_at
		 FROM memory_facts WHERE id = ?`, id)
	return scanFact(row)
}

// QueryMemory lists facts filtered by category and key (LIKE-capable),
// ordered by confidence DESC, updated_at DESC.
func (s *Store) QueryMemory(category *types.FactCategory, keyLike string, minConfidence float64, limit int) ([]*types.MemoryFact, error) {
	query := `SELECT id, project_id, category, key, value_json, confidence, source, created_at, updated_at FROM memory_facts WHERE project_id = ? AND confidence >= ?`
	args := []interface{}{s.projectID, minConfidence}

	if category != nil {
		query += ` AND category = ?`
		args = append(args, string(*category))
	}
	if keyLike != "" {
		query += ` AND key LIKE ?`
		args = append(args, strings.ReplaceAll(keyLike, "*", "%"))
	}
	query += ` ORDER BY confidence DESC, updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "QueryMemory", "failed to query facts", err)
	}
	defer rows.Close()

	var out []*types.MemoryFact
	for rows.Next() {
		f, err := scanFactRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListMemory returns every fact for the project.
func (s *Store) ListMemory() ([]*types.MemoryFact, error) {
	return s.QueryMemory(nil, "", 0.0, 0)
}

// DeleteFact removes a fact by id and records the deletion in the audit log.
func (s *Store) DeleteFact(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.GetFactById(id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	if _, err := s.db.Exec(`DELETE FROM memory_facts WHERE id = ?`, id); err != nil {
		return false, errs.Wrap(errs.KindInternal, component, "DeleteFact", "failed to delete fact", err)
	}

	beforeJSON, _ := json.Marshal(existing)
	if err := s.audit(id, AuditDelete, string(beforeJSON), "", string(existing.Source)); err != nil {
		return false, err
	}
	return true, nil
}

// GetAuditLog returns the most recent audit entries, newest first.
func (s *Store) GetAuditLog(limit int) ([]*AuditEntry, error) {
	query := `SELECT id, fact_id, operation, before_json, after_json, changed_by, changed_at FROM audit_log ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "GetAuditLog", "failed to query audit log", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var changedAt string
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.FactID, &e.Operation, &before, &after, &e.ChangedBy, &changedAt); err != nil {
			return nil, errs.Wrap(errs.KindInternal, component, "GetAuditLog", "failed to scan audit entry", err)
		}
		e.Before = before.String
		e.After = after.String
		e.ChangedAt, _ = time.Parse(time.RFC3339, changedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetStats summarizes fact counts by category.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{FactsByCategory: map[string]int64{}}
	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM memory_facts WHERE project_id = ? GROUP BY category`, s.projectID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "GetStats", "failed to aggregate stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var count int64
		if err := rows.Scan(&cat, &count); err != nil {
			return nil, errs.Wrap(errs.KindInternal, component, "GetStats", "failed to scan stats row", err)
		}
		stats.FactsByCategory[cat] = count
		stats.TotalFacts += count
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row *sql.Row) (*types.MemoryFact, error) {
	f, err := scanFactGeneric(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func scanFactRows(rows *sql.Rows) (*types.MemoryFact, error) {
	return scanFactGeneric(rows)
}

func scanFactGeneric(s rowScanner) (*types.MemoryFact, error) {
	var (
		f                    types.MemoryFact
		category, source     string
		valueJSON            string
		createdAt, updatedAt string
	)
	if err := s.Scan(&f.ID, &f.ProjectID, &category, &f.Key, &valueJSON, &f.Confidence, &source, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.Category = types.FactCategory(category)
	f.Source = types.FactSource(source)
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	f.SchemaVersion = 1
	if err := json.Unmarshal([]byte(valueJSON), &f.Value); err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "scanFact", "failed to unmarshal fact value", err)
	}
	return &f, nil
}
