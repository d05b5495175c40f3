package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Instance is a persisted instance row.
type Instance struct {
	ID               int            `db:"id"`
	Name             string         `db:"name"`
	LaunchCommand    string         `db:"launch_command"`
	WorkingDirectory sql.NullString `db:"working_directory"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// InsertInstance stores inst under a newly generated id, which is written
// back to inst.ID. Any id already set on inst is ignored.
func (s *Store) InsertInstance(ctx context.Context, inst *Instance) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (name, launch_command, working_directory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, inst.Name, inst.LaunchCommand, inst.WorkingDirectory, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read instance id: %w", err)
	}
	inst.ID = int(id)
	inst.CreatedAt = now
	inst.UpdatedAt = now
	return nil
}

// FindInstanceByID returns the instance with the given id or ErrNotFound.
func (s *Store) FindInstanceByID(ctx context.Context, id int) (*Instance, error) {
	var inst Instance
	err := s.db.GetContext(ctx, &inst, `
		SELECT id, name, launch_command, working_directory, created_at, updated_at
		FROM instances
		WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %d %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &inst, nil
}

// UpdateInstance overwrites the stored configuration of inst.ID. It reports
// whether a row was changed; an unknown id is not an error.
func (s *Store) UpdateInstance(ctx context.Context, inst *Instance) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET name = ?, launch_command = ?, working_directory = ?, updated_at = ?
		WHERE id = ?
	`, inst.Name, inst.LaunchCommand, inst.WorkingDirectory, now, inst.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update instance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		inst.UpdatedAt = now
	}
	return n > 0, nil
}

// DeleteInstance removes the instance with the given id. An unknown id is not
// an error.
func (s *Store) DeleteInstance(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

// ListInstances returns every instance ordered by id. Only ID and Name are
// populated.
func (s *Store) ListInstances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	if err := s.db.SelectContext(ctx, &out, `SELECT id, name FROM instances ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return out, nil
}
