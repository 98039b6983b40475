// Package local executes state reads, state writes and operations directly
// against the in-process instance.
//
// The executor is the only path to the instance once it is built: the server
// and the runtime both go through it, and one mutex serializes every access.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/dispatch"
	"github.com/ln64-git/dynamic-server-app-template/internal/instance"
	"github.com/ln64-git/dynamic-server-app-template/internal/metrics"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
)

// ErrUnknownKey is returned by Get for a key that is neither a field nor a
// computed member.
var ErrUnknownKey = errors.New("local: unknown state key")

// Committer persists a snapshot after a genuine state change.
type Committer interface {
	Commit(snap state.Snapshot) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(state.Snapshot) error

func (f CommitFunc) Commit(snap state.Snapshot) error { return f(snap) }

// Executor runs get/set/call on one instance.
type Executor struct {
	mu     sync.Mutex
	inst   instance.Instance
	model  *state.Model
	table  *dispatch.Table
	commit Committer
	log    *zap.Logger
}

type options struct {
	validate bool
	commit   Committer
	log      *zap.Logger
	exclude  []string
}

// Option configures an Executor.
type Option func(*options)

// WithValidation toggles all-or-nothing type checking of patches (default on).
func WithValidation(v bool) Option { return func(o *options) { o.validate = v } }

// WithCommitter sets the persistence hook called after each change.
func WithCommitter(c Committer) Option { return func(o *options) { o.commit = c } }

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithExclude keeps the named Go methods out of the operation table.
func WithExclude(methods ...string) Option {
	return func(o *options) { o.exclude = append(o.exclude, methods...) }
}

// New builds the state model and the operation table of inst.
func New(inst instance.Instance, opts ...Option) (*Executor, error) {
	o := &options{validate: true}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.Or(o.log, "local")

	model, err := state.New(inst, state.WithValidation(o.validate), state.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("state model: %w", err)
	}
	table, err := dispatch.Publish(inst, dispatch.WithExclude(o.exclude...), dispatch.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("operation table: %w", err)
	}
	return &Executor{
		inst:   inst,
		model:  model,
		table:  table,
		commit: o.commit,
		log:    log,
	}, nil
}

// Get returns the value of key, or the full snapshot when key is empty.
func (e *Executor) Get(key string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if key == "" {
		return e.model.Snapshot(), nil
	}
	v, ok := e.model.Value(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return v, nil
}

// Snapshot returns the current state.
func (e *Executor) Snapshot() state.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Snapshot()
}

// Set applies the keys of patch that actually differ from the current state
// and returns the resulting snapshot.
//
// Unknown and readonly keys are dropped. With validation on, one mistyped
// value rejects the whole patch and nothing is written. A non-empty change
// is appended to the instance log and handed to the Committer; an
// unchanged patch commits nothing.
//
// Parameters:
//   - patch: keys to write, as decoded from JSON
//
// Returns:
//   - The snapshot after the write
//   - *state.ValidationError naming the offending key in validated mode
//
// Example:
//
//	snap, err := exec.Set(state.Patch{"message": "bye"})
func (e *Executor) Set(patch state.Patch) (state.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	diff := e.model.Diff(patch)
	if len(diff) == 0 {
		metrics.StateWrites.WithLabelValues("unchanged").Inc()
		return e.model.Snapshot(), nil
	}
	applied, err := e.model.ApplyPatch(diff)
	if err != nil {
		metrics.StateWrites.WithLabelValues("invalid").Inc()
		return nil, err
	}
	snap := e.model.Snapshot()
	if len(applied) == 0 {
		metrics.StateWrites.WithLabelValues("unchanged").Inc()
		return snap, nil
	}

	metrics.StateWrites.WithLabelValues("applied").Inc()
	e.log.Info("state changed", logger.Keys(applied.Keys()))
	e.inst.AppBase().AppendLog("set " + compact(applied))
	e.persist(snap)
	return snap, nil
}

// Call invokes operation name. A call that changes state is logged and
// committed like a patch.
func (e *Executor) Call(ctx context.Context, name string, args []json.RawMessage) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.model.Snapshot()
	result, err := e.table.Invoke(ctx, name, args)
	switch {
	case dispatch.IsNotFound(err):
		metrics.OperationCalls.WithLabelValues(name, "not_found").Inc()
		return nil, err
	case err != nil:
		metrics.OperationCalls.WithLabelValues(name, "error").Inc()
		e.log.Warn("operation failed", logger.Op(name), logger.Err(err))
		e.inst.AppBase().AppendLog("call " + name + " failed: " + err.Error())
	default:
		metrics.OperationCalls.WithLabelValues(name, "ok").Inc()
		e.inst.AppBase().AppendLog("call " + name)
	}

	// Operations may fail after mutating, so state is checked either way.
	after := e.model.Snapshot()
	if !state.Equal(before, after) {
		e.log.Info("state changed by operation", logger.Op(name))
		e.persist(after)
	}
	return result, err
}

// Operations describes the published operations.
func (e *Executor) Operations() []dispatch.Descriptor {
	return e.table.Describe()
}

// Lookup reports whether name is a published operation.
func (e *Executor) Lookup(name string) (dispatch.Descriptor, bool) {
	return e.table.Lookup(name)
}

// Mutate runs fn on the instance under the executor lock.
func (e *Executor) Mutate(fn func(inst instance.Instance)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.inst)
}

// Port returns the instance address port.
func (e *Executor) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inst.AppBase().Port
}

// Restore merges a previously persisted snapshot into the instance without
// committing it again. Readonly and unknown keys are skipped.
func (e *Executor) Restore(saved state.Patch) (state.Patch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied, err := e.model.ApplyPatch(e.model.Diff(saved))
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		e.log.Info("state restored", logger.Keys(applied.Keys()))
	}
	return applied, nil
}

// Logs returns the instance log buffer.
func (e *Executor) Logs() []string {
	return e.inst.AppBase().Logs()
}

func (e *Executor) persist(snap state.Snapshot) {
	if e.commit == nil {
		return
	}
	if err := e.commit.Commit(snap); err != nil {
		e.log.Error("commit failed", logger.Err(err))
	}
}

func compact(p state.Patch) string {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprint(map[string]any(p))
	}
	return string(raw)
}
