// Package sqlite implements the counter store on a sqlite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	// github.com/mattn/go-sqlite3 is for sqlite.
	_ "github.com/mattn/go-sqlite3"

	"github.com/itohio/lorameter/pkg/store"
)

var errClosed = errors.New("sqlite store closed")

// Ensure Store implements store.CounterStore.
var _ store.CounterStore = (*Store)(nil)

// Store keeps counters in a sqlite table.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	sqlStmt := `
	create table if not exists counters(name STRING NOT NULL PRIMARY KEY, value INTEGER NOT NULL);
	`
	if _, err := db.ExecContext(ctx, sqlStmt); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, fmt.Errorf("failed to create counters table: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the saved value of name.
func (s *Store) Load(ctx context.Context, name string) (uint32, error) {
	if s.db == nil {
		return 0, errClosed
	}

	var v int64
	err := s.db.QueryRowContext(ctx, "select value from counters where name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load counter %s: %w", name, err)
	}
	return uint32(v), nil
}

// Save stores v under name.
func (s *Store) Save(ctx context.Context, name string, v uint32) error {
	if s.db == nil {
		return errClosed
	}

	_, err := s.db.ExecContext(ctx, "insert or replace into counters (name, value) VALUES(?, ?);", name, int64(v))
	if err != nil {
		return fmt.Errorf("failed to save counter %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
