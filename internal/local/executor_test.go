package local

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/dispatch"
	"github.com/ln64-git/dynamic-server-app-template/internal/instance"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
)

type greeter struct {
	instance.Base
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func (g *greeter) Greet(name string) string { return "hello " + name }

func (g *greeter) Bump() int {
	g.Count++
	return g.Count
}

func (g *greeter) Fail() error {
	g.Count = -1
	return errors.New("boom")
}

type recorder struct {
	commits []state.Snapshot
	err     error
}

func (r *recorder) Commit(snap state.Snapshot) error {
	r.commits = append(r.commits, snap)
	return r.err
}

func newExecutor(t *testing.T, opts ...Option) (*Executor, *greeter, *recorder) {
	t.Helper()
	g := &greeter{Message: "hi"}
	g.Port = 2000
	rec := &recorder{}
	opts = append([]Option{WithCommitter(rec), WithLogger(zap.NewNop())}, opts...)
	exec, err := New(g, opts...)
	require.NoError(t, err)
	return exec, g, rec
}

func TestGet(t *testing.T) {
	exec, _, _ := newExecutor(t)

	all, err := exec.Get("")
	require.NoError(t, err)
	assert.Equal(t, state.Snapshot{"port": 2000, "message": "hi", "count": 0}, all)

	msg, err := exec.Get("message")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg)

	_, err = exec.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestSetAppliesOnlyTheDiff(t *testing.T) {
	exec, g, rec := newExecutor(t)

	snap, err := exec.Set(state.Patch{"message": "hi", "count": 3, "unknown": true})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Count)
	assert.Equal(t, 3, snap["count"])
	assert.NotContains(t, snap, "unknown")

	require.Len(t, rec.commits, 1)
	assert.Equal(t, 3, rec.commits[0]["count"])
	assert.Equal(t, []string{`set {"count":3}`}, exec.Logs())
}

func TestSetUnchangedDoesNotCommit(t *testing.T) {
	exec, _, rec := newExecutor(t)

	snap, err := exec.Set(state.Patch(exec.Snapshot()))
	require.NoError(t, err)
	assert.Equal(t, exec.Snapshot(), snap)
	assert.Empty(t, rec.commits)
	assert.Empty(t, exec.Logs())
}

func TestSetIgnoresPort(t *testing.T) {
	exec, g, rec := newExecutor(t)

	_, err := exec.Set(state.Patch{"port": 9999})
	require.NoError(t, err)
	assert.Equal(t, 2000, g.Port)
	assert.Empty(t, rec.commits)
}

func TestSetValidation(t *testing.T) {
	exec, g, rec := newExecutor(t)

	_, err := exec.Set(state.Patch{"message": "bye", "count": "many"})
	var ve *state.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "count", ve.Key)
	assert.Equal(t, "hi", g.Message, "nothing applied")
	assert.Empty(t, rec.commits)
}

func TestSetWithoutValidationIsBestEffort(t *testing.T) {
	exec, g, _ := newExecutor(t, WithValidation(false))

	_, err := exec.Set(state.Patch{"message": "bye", "count": "many"})
	require.NoError(t, err)
	assert.Equal(t, "bye", g.Message)
	assert.Equal(t, 0, g.Count)
}

func TestCall(t *testing.T) {
	exec, g, rec := newExecutor(t)

	args, err := dispatch.EncodeArgs("Ann")
	require.NoError(t, err)
	out, err := exec.Call(context.Background(), "greet", args)
	require.NoError(t, err)
	assert.Equal(t, "hello Ann", out)
	assert.Equal(t, "hi", g.Message)
	assert.Empty(t, rec.commits, "read-only operation does not commit")

	out, err = exec.Call(context.Background(), "bump", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out)
	require.Len(t, rec.commits, 1)
	assert.Equal(t, 1, rec.commits[0]["count"])

	assert.Equal(t, []string{"call greet", "call bump"}, exec.Logs())
}

func TestCallNotFoundLeavesStateAlone(t *testing.T) {
	exec, _, rec := newExecutor(t)
	before := exec.Snapshot()

	_, err := exec.Call(context.Background(), "nope", nil)
	assert.True(t, dispatch.IsNotFound(err))
	assert.Equal(t, before, exec.Snapshot())
	assert.Empty(t, rec.commits)
}

func TestCallFailureStillCommitsMutation(t *testing.T) {
	exec, g, rec := newExecutor(t)

	_, err := exec.Call(context.Background(), "fail", nil)
	var ee *dispatch.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, -1, g.Count)
	assert.Len(t, rec.commits, 1)
}

func TestCommitErrorIsNotFatal(t *testing.T) {
	exec, g, rec := newExecutor(t)
	rec.err = errors.New("disk full")

	_, err := exec.Set(state.Patch{"message": "bye"})
	require.NoError(t, err)
	assert.Equal(t, "bye", g.Message)
}

func TestOperationsExcludeLifecycle(t *testing.T) {
	exec, _, _ := newExecutor(t, WithExclude("Fail"))

	var names []string
	for _, d := range exec.Operations() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"bump", "greet"}, names)

	_, ok := exec.Lookup("greet")
	assert.True(t, ok)
	_, ok = exec.Lookup("setPort")
	assert.False(t, ok)
}

func TestMutateAndPort(t *testing.T) {
	exec, _, _ := newExecutor(t)
	exec.Mutate(func(inst instance.Instance) { inst.AppBase().SetPort(2001) })
	assert.Equal(t, 2001, exec.Port())
	assert.Equal(t, 2001, exec.Snapshot()["port"])
}

func TestRestore(t *testing.T) {
	exec, g, rec := newExecutor(t)

	applied, err := exec.Restore(state.Patch{"port": 1, "message": "saved", "gone": 1})
	require.NoError(t, err)
	assert.Equal(t, state.Patch{"message": "saved"}, applied)
	assert.Equal(t, "saved", g.Message)
	assert.Equal(t, 2000, g.Port)
	assert.Empty(t, rec.commits)
}

func TestCommitFunc(t *testing.T) {
	var got state.Snapshot
	exec, _, _ := newExecutor(t, WithCommitter(CommitFunc(func(s state.Snapshot) error {
		got = s
		return nil
	})))

	_, err := exec.Set(state.Patch{"message": "bye"})
	require.NoError(t, err)
	assert.Equal(t, "bye", got["message"])
}
