// Package registry manages instance configuration on top of the instance
// store and owns the on-disk layout of instance working directories.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bdobrica/lcsm/internal/runner/store"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = store.ErrNotFound

// instancesDir is the directory under the data directory holding default
// working directories.
const instancesDir = "Instances"

// Store is the persistence the registry needs.
type Store interface {
	InsertInstance(ctx context.Context, inst *store.Instance) error
	FindInstanceByID(ctx context.Context, id int) (*store.Instance, error)
	UpdateInstance(ctx context.Context, inst *store.Instance) (bool, error)
	DeleteInstance(ctx context.Context, id int) error
	ListInstances(ctx context.Context) ([]store.Instance, error)
}

// Registry is the instance registry of one runner.
type Registry struct {
	store   Store
	dataDir string
	logger  *slog.Logger
}

// New creates a registry rooted at dataDir.
func New(s Store, dataDir string, logger *slog.Logger) (*Registry, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("registry: data directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: s, dataDir: dataDir, logger: logger}, nil
}

// DataDir returns the root data directory.
func (r *Registry) DataDir() string { return r.dataDir }

// List returns all instances. Only ID and Name are guaranteed to be set.
func (r *Registry) List(ctx context.Context) ([]store.Instance, error) {
	return r.store.ListInstances(ctx)
}

// Get returns the instance with the given id, or an error wrapping ErrNotFound.
func (r *Registry) Get(ctx context.Context, id int) (*store.Instance, error) {
	return r.store.FindInstanceByID(ctx, id)
}

// Create stores inst under a new id and, when it has no explicit working
// directory, recreates the default one on disk. inst.ID is set on success.
// When the directory cannot be provisioned the record is removed again.
func (r *Registry) Create(ctx context.Context, inst *store.Instance) error {
	inst.ID = 0
	normalize(inst)
	if err := r.store.InsertInstance(ctx, inst); err != nil {
		return err
	}

	if inst.WorkingDirectory.Valid {
		return nil
	}
	dir := r.ResolvePath(inst)
	if err := provision(dir); err != nil {
		id := inst.ID
		if derr := r.store.DeleteInstance(ctx, id); derr != nil {
			r.logger.Error("registry: rollback of failed create", "instance_id", id, "err", derr)
			err = errors.Join(err, derr)
		}
		inst.ID = 0
		return fmt.Errorf("instance %d: %w", id, err)
	}
	r.logger.Info("registry: working directory provisioned", "instance_id", inst.ID, "dir", dir)
	return nil
}

// provision replaces dir with an empty directory.
func provision(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear working directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	return nil
}

// Update overwrites the configuration of inst.ID. Unknown ids are ignored.
func (r *Registry) Update(ctx context.Context, inst *store.Instance) error {
	normalize(inst)
	changed, err := r.store.UpdateInstance(ctx, inst)
	if err != nil {
		return err
	}
	if !changed {
		r.logger.Debug("registry: update of unknown instance ignored", "instance_id", inst.ID)
	}
	return nil
}

// Delete removes the instance record. Its working directory stays on disk.
func (r *Registry) Delete(ctx context.Context, id int) error {
	return r.store.DeleteInstance(ctx, id)
}

// ResolvePath returns the explicit working directory of inst, or
// <dataDir>/Instances/<id> when none is set.
func (r *Registry) ResolvePath(inst *store.Instance) string {
	if inst.WorkingDirectory.Valid && strings.TrimSpace(inst.WorkingDirectory.String) != "" {
		return inst.WorkingDirectory.String
	}
	return filepath.Join(r.dataDir, instancesDir, strconv.Itoa(inst.ID))
}

// normalize turns a blank working directory into an unset one.
func normalize(inst *store.Instance) {
	if strings.TrimSpace(inst.WorkingDirectory.String) == "" {
		inst.WorkingDirectory = sql.NullString{}
	}
}
