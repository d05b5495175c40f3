// Package engine binds one RPC server to one transport and interprets the
// protocol actions against the instance registry and the process supervisor.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bdobrica/lcsm/internal/runner/audit"
	"github.com/bdobrica/lcsm/internal/runner/observability"
	"github.com/bdobrica/lcsm/internal/runner/protocol"
	"github.com/bdobrica/lcsm/internal/runner/registry"
	"github.com/bdobrica/lcsm/internal/runner/rpc"
	"github.com/bdobrica/lcsm/internal/runner/transport"
)

// ErrImagesUnavailable is returned by ListImages on runners without an image
// inventory.
var ErrImagesUnavailable = errors.New("image inventory is not enabled on this runner")

// Supervisor is the process control the engine needs.
type Supervisor interface {
	StartProcess(id int, launchCommand, workDir string) error
	StopProcess(ctx context.Context, id int) error
	TerminateProcess(id int) error
	IsRunning(id int) bool
}

// ImageLister reports container images on the runner host.
type ImageLister interface {
	List(ctx context.Context) ([]protocol.Image, error)
}

// Engine is one runner endpoint.
type Engine struct {
	name       string
	registry   *registry.Registry
	supervisor Supervisor
	images     ImageLister
	notifier   audit.Notifier
	logger     *slog.Logger

	serverOpts []rpc.ServerOption
	server     *rpc.Server
}

// Option configures an Engine.
type Option func(*Engine)

// WithName sets the runner name reported in notifications.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithImages enables the ListImages action.
func WithImages(l ImageLister) Option {
	return func(e *Engine) { e.images = l }
}

// WithNotifier sets where lifecycle events are sent.
func WithNotifier(n audit.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger sets the engine logger. It is also passed on to the server.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithServerOptions passes options through to the RPC server.
func WithServerOptions(opts ...rpc.ServerOption) Option {
	return func(e *Engine) { e.serverOpts = append(e.serverOpts, opts...) }
}

// New creates an engine serving l. The server is not started.
func New(l transport.Listener, reg *registry.Registry, sup Supervisor, opts ...Option) *Engine {
	e := &Engine{
		name:       "runner",
		registry:   reg,
		supervisor: sup,
		notifier:   audit.Noop{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	serverOpts := append([]rpc.ServerOption{rpc.WithServerLogger(e.logger)}, e.serverOpts...)
	e.server = rpc.NewServer(l, e, serverOpts...)
	return e
}

// Start starts accepting connections. Calling it twice is a no-op.
func (e *Engine) Start() { e.server.Start() }

// Stop stops the server and waits for its workers. Running processes are
// left alone.
func (e *Engine) Stop() { e.server.Stop() }

// Started reports whether the server is accepting connections.
func (e *Engine) Started() bool { return e.server.Started() }

// InstanceExited reports a process that exited on its own. It is meant to be
// installed as the supervisor's exit hook.
func (e *Engine) InstanceExited(id int, err error) {
	msg := "process exited"
	if err != nil {
		msg = "process exited: " + err.Error()
	}
	e.notify(context.Background(), audit.KindInstanceExited, id, msg)
}

// ServeRPC dispatches one action.
func (e *Engine) ServeRPC(ctx context.Context, action protocol.Action, data json.RawMessage) (any, error) {
	switch action {
	case protocol.ActionNone:
		return nil, nil
	case protocol.ActionListInstances:
		return e.listInstances(ctx)
	case protocol.ActionGetInstance:
		return e.getInstance(ctx, data)
	case protocol.ActionCreateInstance:
		return e.createInstance(ctx, data)
	case protocol.ActionUpdateInstance:
		return nil, e.updateInstance(ctx, data)
	case protocol.ActionDeleteInstance:
		return nil, e.deleteInstance(ctx, data)
	case protocol.ActionStartInstance:
		return nil, e.startInstance(ctx, data)
	case protocol.ActionStopInstance:
		return nil, e.stopInstance(ctx, data)
	case protocol.ActionTerminateInstance:
		return nil, e.terminateInstance(ctx, data)
	case protocol.ActionListImages:
		return e.listImages(ctx)
	}
	return nil, fmt.Errorf("%w: %q", protocol.ErrUnknownAction, action.String())
}

func (e *Engine) listInstances(ctx context.Context) ([]protocol.Instance, error) {
	rows, err := e.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Instance, 0, len(rows))
	for i := range rows {
		out = append(out, toPayload(&rows[i], e.supervisor.IsRunning(rows[i].ID)))
	}
	return out, nil
}

func (e *Engine) getInstance(ctx context.Context, data json.RawMessage) (*protocol.Instance, error) {
	id, err := protocol.DecodeID(data)
	if err != nil {
		return nil, err
	}
	inst, err := e.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p := toPayload(inst, e.supervisor.IsRunning(id))
	return &p, nil
}

func (e *Engine) createInstance(ctx context.Context, data json.RawMessage) (*protocol.Instance, error) {
	p, err := protocol.DecodeInstance(data)
	if err != nil {
		return nil, err
	}
	inst := fromPayload(p)
	if err := e.registry.Create(ctx, inst); err != nil {
		return nil, err
	}
	observability.WithTrace(ctx, e.logger).Info("engine: instance created", "instance_id", inst.ID, "name", inst.Name)
	e.notify(ctx, audit.KindInstanceCreated, inst.ID, fmt.Sprintf("%q created", inst.Name))
	out := toPayload(inst, false)
	return &out, nil
}

func (e *Engine) updateInstance(ctx context.Context, data json.RawMessage) error {
	p, err := protocol.DecodeInstance(data)
	if err != nil {
		return err
	}
	if err := e.registry.Update(ctx, fromPayload(p)); err != nil {
		return err
	}
	e.notify(ctx, audit.KindInstanceUpdated, p.ID, fmt.Sprintf("%q updated", p.Name))
	return nil
}

func (e *Engine) deleteInstance(ctx context.Context, data json.RawMessage) error {
	id, err := protocol.DecodeID(data)
	if err != nil {
		return err
	}
	if err := e.registry.Delete(ctx, id); err != nil {
		return err
	}
	observability.WithTrace(ctx, e.logger).Info("engine: instance deleted", "instance_id", id)
	e.notify(ctx, audit.KindInstanceDeleted, id, "deleted")
	return nil
}

func (e *Engine) startInstance(ctx context.Context, data json.RawMessage) error {
	id, err := protocol.DecodeID(data)
	if err != nil {
		return err
	}
	inst, err := e.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.supervisor.IsRunning(id) {
		return nil
	}
	if err := e.supervisor.StartProcess(id, inst.LaunchCommand, e.registry.ResolvePath(inst)); err != nil {
		return err
	}
	e.notify(ctx, audit.KindInstanceStarted, id, fmt.Sprintf("%q started", inst.Name))
	return nil
}

// stopInstance waits for the process to exit, up to the supervisor's grace
// period. Requests are served in order per connection, so later requests on
// the same connection wait behind it.
func (e *Engine) stopInstance(ctx context.Context, data json.RawMessage) error {
	id, err := protocol.DecodeID(data)
	if err != nil {
		return err
	}
	if !e.supervisor.IsRunning(id) {
		return nil
	}
	if err := e.supervisor.StopProcess(ctx, id); err != nil {
		return err
	}
	e.notify(ctx, audit.KindInstanceStopped, id, "stopped")
	return nil
}

func (e *Engine) terminateInstance(ctx context.Context, data json.RawMessage) error {
	id, err := protocol.DecodeID(data)
	if err != nil {
		return err
	}
	if !e.supervisor.IsRunning(id) {
		return nil
	}
	if err := e.supervisor.TerminateProcess(id); err != nil {
		return err
	}
	e.notify(ctx, audit.KindInstanceTerminated, id, "terminated")
	return nil
}

func (e *Engine) listImages(ctx context.Context) ([]protocol.Image, error) {
	if e.images == nil {
		return nil, ErrImagesUnavailable
	}
	return e.images.List(ctx)
}

func (e *Engine) notify(ctx context.Context, kind audit.Kind, id int, msg string) {
	e.notifier.Notify(ctx, audit.Event{
		Kind:       kind,
		Runner:     e.name,
		InstanceID: id,
		Message:    msg,
	})
}
