// Package app wires the runner subsystems: instance store and registry,
// process supervisor, RPC engine on TCP, status server and notifications.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bdobrica/lcsm/common/version"
	"github.com/bdobrica/lcsm/internal/runner/audit"
	"github.com/bdobrica/lcsm/internal/runner/config"
	"github.com/bdobrica/lcsm/internal/runner/control"
	"github.com/bdobrica/lcsm/internal/runner/engine"
	"github.com/bdobrica/lcsm/internal/runner/images"
	"github.com/bdobrica/lcsm/internal/runner/observability"
	"github.com/bdobrica/lcsm/internal/runner/registry"
	"github.com/bdobrica/lcsm/internal/runner/rpc"
	"github.com/bdobrica/lcsm/internal/runner/store"
	"github.com/bdobrica/lcsm/internal/runner/supervisor"
	"github.com/bdobrica/lcsm/internal/runner/transport/tcp"
)

const shutdownTimeout = 15 * time.Second

// App is the runner daemon.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *store.Store
	supv      *supervisor.Supervisor
	engine    *engine.Engine
	listener  *tcp.Listener
	status    *control.Server
	inventory *images.Inventory
	notifier  audit.Notifier
	closeNote func()

	stopOnce sync.Once
}

// New opens every subsystem. Nothing is served until Run or Serve.
func New(cfg *config.Config) (*App, error) {
	logger := observability.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	reg, err := registry.New(db, cfg.DataDir, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, db: db, notifier: audit.Noop{}, closeNote: func() {}}

	if cfg.Matrix.Enabled() {
		sender, err := audit.NewMatrixSender(cfg.Matrix.Homeserver, cfg.Matrix.UserID, cfg.Matrix.AccessToken)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init matrix: %w", err)
		}
		n := audit.NewMatrixNotifier(sender, cfg.Matrix.RoomID, logger)
		a.notifier = n
		a.closeNote = n.Close
	}

	engineOpts := []engine.Option{
		engine.WithName(cfg.RunnerID),
		engine.WithNotifier(a.notifier),
		engine.WithLogger(logger),
	}
	if cfg.DockerEnabled {
		inv, err := images.NewDocker()
		if err != nil {
			a.closeNote()
			db.Close()
			return nil, fmt.Errorf("init image inventory: %w", err)
		}
		a.inventory = inv
		engineOpts = append(engineOpts, engine.WithImages(inv))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineOpts = append(engineOpts, engine.WithServerOptions(rpc.WithMetrics(rpc.NewMetrics(promReg))))

	a.supv = supervisor.New(
		supervisor.WithLogger(logger),
		supervisor.WithGracePeriod(cfg.GracePeriod),
		supervisor.WithLogDir(filepath.Join(cfg.DataDir, "Logs")),
		supervisor.OnExit(func(id int, err error) { a.engine.InstanceExited(id, err) }),
	)

	ln, err := tcp.Listen(cfg.ListenAddr)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("rpc listen: %w", err)
	}
	a.listener = ln
	a.engine = engine.New(ln, reg, a.supv, engineOpts...)

	if cfg.StatusAddr != "" {
		a.status = control.New(cfg.StatusAddr, control.Handlers{
			RunnerID:  cfg.RunnerID,
			StartedAt: time.Now(),
			Token:     cfg.StatusToken,
			Serving:   a.engine.Started,
			Running:   a.supv.Running,
			Registry:  promReg,
		})
	}
	return a, nil
}

// Addr returns the bound RPC address.
func (a *App) Addr() string { return a.listener.Addr() }

// Run serves until SIGINT or SIGTERM, then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve serves until ctx is done, then shuts down.
func (a *App) Serve(ctx context.Context) error {
	if a.status != nil {
		if err := a.status.Start(ctx); err != nil {
			a.Stop()
			return fmt.Errorf("start status server: %w", err)
		}
	}
	a.engine.Start()

	a.logger.Info("runner started",
		"runner_id", a.cfg.RunnerID,
		"addr", a.listener.Addr(),
		"version", version.Version,
	)

	<-ctx.Done()
	a.logger.Info("runner: shutting down")
	a.Stop()
	return nil
}

// Stop stops serving, kills every instance process and releases resources.
// It is safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.engine.Stop()
		if err := a.listener.Close(); err != nil {
			a.logger.Debug("runner: close listener", "err", err)
		}
		if a.status != nil {
			a.status.Stop()
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.supv.Shutdown(ctx); err != nil {
			a.logger.Error("runner: supervisor shutdown", "err", err)
		}
		a.closeResources()
	})
}

func (a *App) closeResources() {
	a.closeNote()
	if a.inventory != nil {
		if err := a.inventory.Close(); err != nil {
			a.logger.Debug("runner: close docker client", "err", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("runner: close store", "err", err)
	}
}
