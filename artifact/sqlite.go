package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps artifacts in a single SQLite database file, convenient
// when many runs share one host.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore returns a store backed by the database at path. Call Init
// before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database and creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS artifacts (
			run_id      TEXT NOT NULL,
			artifact_id TEXT NOT NULL,
			data        BLOB NOT NULL,
			PRIMARY KEY (run_id, artifact_id)
		)
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

// Save stores (or overwrites) an artifact.
func (s *SQLiteStore) Save(ctx context.Context, runID, artifactID string, data []byte) error {
	if err := validateID("run", runID); err != nil {
		return err
	}
	if err := validateID("artifact", artifactID); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, artifact_id, data)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, artifact_id) DO UPDATE SET data = excluded.data
	`, runID, artifactID, data)
	return err
}

// Get returns the artifact or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, runID, artifactID string) ([]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var data []byte
	err = db.QueryRowContext(ctx,
		`SELECT data FROM artifacts WHERE run_id = ? AND artifact_id = ?`, runID, artifactID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// List returns the sorted artifact ids of the run.
func (s *SQLiteStore) List(ctx context.Context, runID string) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT artifact_id FROM artifacts WHERE run_id = ? ORDER BY artifact_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the artifact or returns ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, runID, artifactID string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE run_id = ? AND artifact_id = ?`, runID, artifactID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
