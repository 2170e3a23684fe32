// Package episodic implements the EpisodicStore described in spec.md §4.3:
// advisory lessons learned from past situations, one SQLite database per
// project (episodic.db), grounded in the same repository pattern as
// internal/symbolic and the teacher's internal/storage/task_repository.go.
package episodic

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const component = "episodic"

// isAbstracted reports false for an episode whose lesson looks like a literal
// transcript of the situation rather than a generalized takeaway: a crude
// heuristic that a lesson restating the situation almost verbatim is not
// actually a lesson (spec.md §4.3 abstraction-check invariant).
func isAbstracted(situation, lesson string) bool {
	lesson = strings.TrimSpace(lesson)
	if lesson == "" {
		return false
	}
	normalizedSituation := strings.ToLower(strings.TrimSpace(situation))
	normalizedLesson := strings.ToLower(lesson)
	if normalizedSituation == "" {
		return true
	}
	return normalizedLesson != normalizedSituation && !strings.Contains(normalizedSituation, normalizedLesson)
}

// Store is a per-project SQLite-backed EpisodicStore.
type Store struct {
	db        *sql.DB
	projectID string
	mu        sync.Mutex
}

// Open opens (creating if necessary) the episodic store for a project at
// <projectDir>/episodic.db.
func Open(projectDir, projectID string) (*Store, error) {
	dsn := filepath.Join(projectDir, "episodic.db")
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "Open", "failed to open episodic store", err)
	}
	s := &Store{db: db, projectID: projectID}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	situation TEXT NOT NULL,
	action TEXT NOT NULL,
	outcome TEXT NOT NULL,
	lesson TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_project_created_at ON episodes(project_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return errs.Wrap(errs.KindInternal, component, "migrate", "failed to apply episodic schema", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func validateEpisode(e *types.Episode) error {
	if strings.TrimSpace(e.Situation) == "" {
		return errs.New(errs.KindInvalidArgument, component, "validateEpisode", "situation must not be empty")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errs.New(errs.KindInvalidArgument, component, "validateEpisode", "action must not be empty")
	}
	if strings.TrimSpace(e.Lesson) == "" {
		return errs.New(errs.KindInvalidArgument, component, "validateEpisode", "lesson must not be empty")
	}
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		return errs.New(errs.KindInvalidArgument, component, "validateEpisode", "confidence must be in [0,1]")
	}
	if !isAbstracted(e.Situation, e.Lesson) {
		return errs.New(errs.KindInvalidArgument, component, "validateEpisode", "lesson must generalize the situation, not restate it")
	}
	return nil
}

// StoreEpisode validates and inserts a new episode.
func (s *Store) StoreEpisode(e *types.Episode) (*types.Episode, error) {
	if err := validateEpisode(e); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = uuid.New().String()
	e.ProjectID = s.projectID
	e.CreatedAt = time.Now().UTC()
	e.SchemaVersion = 1

	_, err := s.db.Exec(
		`INSERT INTO episodes (id, project_id, situation, action, outcome, lesson, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Situation, e.Action, e.Outcome, e.Lesson, e.Confidence, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "StoreEpisode", "failed to insert episode", err)
	}
	return e, nil
}

// QueryEpisodes returns episodes whose situation or lesson contains query
// (case-insensitive substring match), most recent first.
func (s *Store) QueryEpisodes(query string, minConfidence float64, limit int) ([]*types.Episode, error) {
	sqlQuery := `SELECT id, project_id, situation, action, outcome, lesson, confidence, created_at
		FROM episodes WHERE project_id = ? AND confidence >= ?`
	args := []interface{}{s.projectID, minConfidence}

	if query != "" {
		sqlQuery += ` AND (situation LIKE ? OR lesson LIKE ?)`
		like := "%" + query + "%"
		args = append(args, like, like)
	}
	sqlQuery += ` ORDER BY created_at DESC`
	if limit > 0 {
		sqlQuery += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "QueryEpisodes", "failed to query episodes", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRecentEpisodes returns episodes created within the last `days` days,
// most recent first. The cutoff is computed in Go rather than in SQL so the
// store stays portable across the date functions SQLite builds expose.
func (s *Store) ListRecentEpisodes(days int, limit int) ([]*types.Episode, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	query := `SELECT id, project_id, situation, action, outcome, lesson, confidence, created_at
		FROM episodes WHERE project_id = ? AND created_at >= ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(query, s.projectID, cutoff)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "ListRecentEpisodes", "failed to query recent episodes", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEpisode returns the episode with the given id, or nil if none exists.
func (s *Store) GetEpisode(id string) (*types.Episode, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, situation, action, outcome, lesson, confidence, created_at FROM episodes WHERE id = ?`, id)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// DeleteEpisode removes an episode by id. Deleting an unknown id is
// idempotent and returns false.
func (s *Store) DeleteEpisode(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return false, errs.Wrap(errs.KindInternal, component, "DeleteEpisode", "failed to delete episode", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.KindInternal, component, "DeleteEpisode", "failed to inspect delete result", err)
	}
	return n > 0, nil
}

// Stats summarizes the episodic store for one project.
type Stats struct {
	TotalEpisodes int64   `json:"total_episodes"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// GetEpisodeStats summarizes the episodic store for the project.
func (s *Store) GetEpisodeStats() (*Stats, error) {
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM episodes WHERE project_id = ?`, s.projectID)
	var stats Stats
	if err := row.Scan(&stats.TotalEpisodes, &stats.AvgConfidence); err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "GetEpisodeStats", "failed to aggregate stats", err)
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(s rowScanner) (*types.Episode, error) {
	var (
		e         types.Episode
		createdAt string
	)
	if err := s.Scan(&e.ID, &e.ProjectID, &e.Situation, &e.Action, &e.Outcome, &e.Lesson, &e.Confidence, &createdAt); err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.SchemaVersion = 1
	return &e, nil
}
