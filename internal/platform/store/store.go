// Package store persists run artifacts: run records, model checkpoints, and
// training metrics, in a single sqlite file so a run survives restarts and
// the evaluation loop can follow the trainer's checkpoints
package store

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	perr "vesselclass/internal/platform/errors"
)

// Store is a sqlite-backed run-artifact store. Safe for concurrent use
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// New creates an unopened Store for the given sqlite path
func New(path string) *Store {
	return &Store{path: path}
}

// Init opens the database and creates the schema
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return perr.InvalidArgf("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "open sqlite")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return perr.Wrap(err, perr.ErrorCodeDB, "ping sqlite")
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return perr.Wrap(err, perr.ErrorCodeDB, "create schema")
	}

	s.db = db
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, perr.New(perr.ErrorCodeDB, "store is not initialised")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			config TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, step)
		);
		CREATE TABLE IF NOT EXISTS metrics (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (run_id, step, name)
		);
	`)
	return err
}
