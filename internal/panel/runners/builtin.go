package runners

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bdobrica/lcsm/internal/runner/audit"
	"github.com/bdobrica/lcsm/internal/runner/engine"
	"github.com/bdobrica/lcsm/internal/runner/registry"
	"github.com/bdobrica/lcsm/internal/runner/rpc"
	"github.com/bdobrica/lcsm/internal/runner/store"
	"github.com/bdobrica/lcsm/internal/runner/supervisor"
	"github.com/bdobrica/lcsm/internal/runner/transport"
	"github.com/bdobrica/lcsm/internal/runner/transport/memory"
)

const builtinDatabase = "builtin.db"

// BuiltinConfig configures the in-process runner.
type BuiltinConfig struct {
	// DataDir holds the builtin runner's database and instance directories.
	DataDir string
	// GracePeriod bounds StopInstance before the process is killed. Every
	// builtin record shares one pipe connection, so a StopInstance holds up
	// all other builtin calls for as long as this.
	GracePeriod time.Duration
	Notifier    audit.Notifier
	Logger      *slog.Logger
}

// Builtin is a runner engine hosted inside the control plane and reached
// through an in-process pipe. It owns the single RPC client of that pipe.
type Builtin struct {
	db     *store.Store
	supv   *supervisor.Supervisor
	pipe   *memory.Pipe
	engine *engine.Engine
	client *rpc.Client
	logger *slog.Logger
}

// NewBuiltin opens the builtin runner and starts serving.
func NewBuiltin(cfg BuiltinConfig) (*Builtin, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("runner", transport.SocketBuiltin)

	db, err := store.Open(filepath.Join(cfg.DataDir, builtinDatabase))
	if err != nil {
		return nil, fmt.Errorf("builtin runner: %w", err)
	}
	reg, err := registry.New(db, cfg.DataDir, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("builtin runner: %w", err)
	}

	b := &Builtin{db: db, pipe: memory.New(0), logger: logger}
	supOpts := []supervisor.Option{
		supervisor.WithLogger(logger),
		supervisor.WithLogDir(filepath.Join(cfg.DataDir, "Logs")),
		supervisor.OnExit(func(id int, err error) { b.engine.InstanceExited(id, err) }),
	}
	if cfg.GracePeriod > 0 {
		supOpts = append(supOpts, supervisor.WithGracePeriod(cfg.GracePeriod))
	}
	b.supv = supervisor.New(supOpts...)
	b.engine = engine.New(b.pipe, reg, b.supv,
		engine.WithName(transport.SocketBuiltin),
		engine.WithNotifier(cfg.Notifier),
		engine.WithLogger(logger),
	)
	b.engine.Start()
	b.client = rpc.NewClient(b.pipe.Client(), rpc.WithClientLogger(logger))
	return b, nil
}

// Client returns the client bound to the builtin runner. It must not be
// closed by callers.
func (b *Builtin) Client() *rpc.Client { return b.client }

// Started reports whether the builtin engine is serving.
func (b *Builtin) Started() bool { return b.engine.Started() }

// Start resumes serving after Stop.
func (b *Builtin) Start() { b.engine.Start() }

// Stop stops serving. Instance processes keep running.
func (b *Builtin) Stop() { b.engine.Stop() }

// Close stops serving, kills every instance process and releases resources.
func (b *Builtin) Close(ctx context.Context) error {
	b.client.Close()
	b.engine.Stop()
	b.pipe.Close()
	err := b.supv.Shutdown(ctx)
	if cerr := b.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
