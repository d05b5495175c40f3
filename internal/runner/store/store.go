// Package store persists runner state in SQLite.
package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"

	"github.com/bdobrica/lcsm/common/sqlitedb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no row matches the requested id.
var ErrNotFound = errors.New("not found")

// Store wraps the database connection
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("store: migrations: %w", err)
	}
	db, err := sqlitedb.Open(path, migrations)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-migrated connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
