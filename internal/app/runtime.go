// Package app ties an application instance to the rest of the system.
//
// A Runtime answers get, set and call for one instance. Every top-level
// request decides again where it runs: in this process when it is the
// serving instance or when nobody answers at the instance address, and on
// the peer otherwise.
package app

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/dispatch"
	"github.com/ln64-git/dynamic-server-app-template/internal/instance"
	"github.com/ln64-git/dynamic-server-app-template/internal/local"
	"github.com/ln64-git/dynamic-server-app-template/internal/metrics"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/persist"
	"github.com/ln64-git/dynamic-server-app-template/internal/portalloc"
	"github.com/ln64-git/dynamic-server-app-template/internal/probe"
	"github.com/ln64-git/dynamic-server-app-template/internal/remote"
	"github.com/ln64-git/dynamic-server-app-template/internal/server"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
	"github.com/ln64-git/dynamic-server-app-template/internal/wire"
)

// Route is where a request runs.
type Route string

const (
	Local  Route = "local"
	Remote Route = "remote"
)

// Runtime routes requests for one instance.
type Runtime struct {
	inst    instance.Instance
	exec    *local.Executor
	srv     *server.Server
	checker probe.Checker
	client  *remote.Client
	store   persist.Store
	host    string
	log     *zap.Logger
}

// New wires inst to a local executor, a server, a probe and a remote client.
func New(inst instance.Instance, opts ...Option) (*Runtime, error) {
	o := &options{validate: true, host: portalloc.DefaultHost}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.Or(o.log, "app")

	execOpts := []local.Option{local.WithValidation(o.validate), local.WithLogger(log.Named("local"))}
	if o.store != nil {
		execOpts = append(execOpts, local.WithCommitter(o.store))
	}
	exec, err := local.New(inst, execOpts...)
	if err != nil {
		return nil, err
	}

	checker := o.checker
	if checker == nil {
		checker = probe.New(o.probeTimeout, log.Named("probe"))
	}
	client := o.client
	if client == nil {
		client = remote.NewClient(0, log.Named("remote"))
	}

	r := &Runtime{
		inst:    inst,
		exec:    exec,
		checker: checker,
		client:  client,
		store:   o.store,
		host:    o.host,
		log:     log,
		srv: server.New(exec, server.Options{
			Host:        o.host,
			MaxAttempts: o.maxAttempts,
			Grace:       o.grace,
			Gatherer:    o.gatherer,
			Logger:      log.Named("server"),
		}),
	}
	return r, nil
}

// Restore merges the persisted snapshot into the local instance. It is a
// no-op without a store.
func (r *Runtime) Restore() error {
	if r.store == nil {
		return nil
	}
	saved, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	_, err = r.exec.Restore(saved)
	return err
}

// Address returns the peer address of the instance.
func (r *Runtime) Address() wire.Address {
	return wire.Address{Host: r.host, Port: r.exec.Port()}
}

// Route decides where the next request runs. It is never cached.
//
// The decision is made in order:
//  1. This process is serving: Local.
//  2. A peer answers GET /health at the instance address: Remote.
//  3. Otherwise: Local.
//
// Parameters:
//   - ctx: bounds the health check
//
// Example:
//
//	if rt.Route(ctx) == app.Remote {
//		fmt.Println("forwarding to", rt.Address())
//	}
func (r *Runtime) Route(ctx context.Context) Route {
	route := Local
	if !r.inst.AppBase().Serving() && r.checker.IsAlive(ctx, r.Address()) {
		route = Remote
	}
	metrics.RouteDecisions.WithLabelValues(string(route)).Inc()
	r.log.Debug("route", logger.Route(string(route)), logger.Addr(r.Address().String()))
	return route
}

// Get returns one state value, or the full snapshot when key is empty.
func (r *Runtime) Get(ctx context.Context, key string) (any, error) {
	if r.Route(ctx) == Local {
		return r.exec.Get(key)
	}
	snap, err := r.client.ReadState(ctx, r.Address())
	if err != nil {
		return nil, err
	}
	if key == "" {
		return snap, nil
	}
	v, ok := snap[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", local.ErrUnknownKey, key)
	}
	return v, nil
}

// Snapshot returns the full state wherever it lives.
func (r *Runtime) Snapshot(ctx context.Context) (state.Snapshot, error) {
	if r.Route(ctx) == Local {
		return r.exec.Snapshot(), nil
	}
	return r.client.ReadState(ctx, r.Address())
}

// Set applies patch and returns the resulting snapshot.
func (r *Runtime) Set(ctx context.Context, patch state.Patch) (state.Snapshot, error) {
	if r.Route(ctx) == Local {
		return r.exec.Set(patch)
	}
	return r.client.WriteState(ctx, r.Address(), patch)
}

// Call invokes operation name and returns its JSON-encoded result.
//
// Parameters:
//   - ctx: cancels the health check and a forwarded request
//   - name: operation name as listed by Operations
//   - args: one JSON value per parameter
//
// Returns:
//   - The result as JSON, "null" for operations without a result
//   - *dispatch.NotFoundError for unknown or reserved names, on either route
//   - *dispatch.ExecutionError locally, *remote.RemoteError when forwarded
//   - *remote.TransportError when the peer stops answering mid-request
func (r *Runtime) Call(ctx context.Context, name string, args []json.RawMessage) (json.RawMessage, error) {
	if r.Route(ctx) == Remote {
		return r.client.CallOperation(ctx, r.Address(), name, args)
	}
	result, err := r.exec.Call(ctx, name, args)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &dispatch.ExecutionError{Name: name, Err: err}
	}
	return raw, nil
}

// Operations describes the operations of the instance type.
func (r *Runtime) Operations() []dispatch.Descriptor {
	return r.exec.Operations()
}

// Logs returns the local instance log buffer.
func (r *Runtime) Logs() []string {
	return r.exec.Logs()
}

// Serve makes this process the authoritative instance, starting from the
// preferred port. It returns the bound port.
func (r *Runtime) Serve(preferred int) (int, error) {
	return r.srv.Start(preferred)
}

// Shutdown drains the server.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.srv.Shutdown(ctx)
}

// Server returns the lifecycle object of the instance server.
func (r *Runtime) Server() *server.Server {
	return r.srv
}

// SetPort points the instance at another address. It has no effect while
// serving.
func (r *Runtime) SetPort(port int) {
	r.exec.Mutate(func(inst instance.Instance) {
		if b := inst.AppBase(); !b.Serving() {
			b.SetPort(port)
		}
	})
}
