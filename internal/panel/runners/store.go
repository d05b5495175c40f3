package runners

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bdobrica/lcsm/common/sqlitedb"
	"github.com/bdobrica/lcsm/internal/runner/transport"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no runner has the requested id.
var ErrNotFound = errors.New("runner not found")

// Runner is a runner record. SocketType selects how the runner is reached:
// transport.SocketBuiltin for the in-process runner, transport.SocketTCP for
// a runner daemon at SocketURI (host:port).
type Runner struct {
	ID          int       `db:"id"`
	Name        string    `db:"name"`
	SocketType  string    `db:"socket_type"`
	SocketURI   string    `db:"socket_uri"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Store persists runner records.
type Store struct {
	db *sqlx.DB
}

// OpenStore opens (creating if needed) the database at path and migrates it.
func OpenStore(path string) (*Store, error) {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("runners: migrations: %w", err)
	}
	db, err := sqlitedb.Open(path, migrations)
	if err != nil {
		return nil, fmt.Errorf("runners: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-migrated connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// AddRunner stores r under a new id, written back to r.ID. An empty socket
// type means builtin.
func (s *Store) AddRunner(ctx context.Context, r *Runner) error {
	if r.SocketType == "" {
		r.SocketType = transport.SocketBuiltin
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runners (name, socket_type, socket_uri, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Name, r.SocketType, r.SocketURI, r.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert runner: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read runner id: %w", err)
	}
	r.ID = int(id)
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// GetRunner returns the runner with the given id or ErrNotFound.
func (s *Store) GetRunner(ctx context.Context, id int) (*Runner, error) {
	var r Runner
	err := s.db.GetContext(ctx, &r, `
		SELECT id, name, socket_type, socket_uri, description, created_at, updated_at
		FROM runners
		WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("runner %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get runner: %w", err)
	}
	return &r, nil
}

// UpdateRunner overwrites the record of r.ID. It reports whether a row was
// changed; an unknown id is not an error.
func (s *Store) UpdateRunner(ctx context.Context, r *Runner) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runners
		SET name = ?, socket_type = ?, socket_uri = ?, description = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.SocketType, r.SocketURI, r.Description, now, r.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update runner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteRunner removes the runner with the given id. An unknown id is not an
// error.
func (s *Store) DeleteRunner(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runners WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete runner: %w", err)
	}
	return nil
}

// ListRunners returns every runner ordered by id.
func (s *Store) ListRunners(ctx context.Context) ([]Runner, error) {
	var out []Runner
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, name, socket_type, socket_uri, description, created_at, updated_at
		FROM runners
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}
	return out, nil
}
