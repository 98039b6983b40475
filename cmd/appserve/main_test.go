package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ln64-git/dynamic-server-app-template/internal/probe"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
	"github.com/ln64-git/dynamic-server-app-template/internal/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// run executes the CLI against port with quiet logs and no config file.
func run(t *testing.T, ctx context.Context, port int, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	base := []string{"--config", "", "--log-level", "error", "--port", strconv.Itoa(port)}
	code := execute(ctx, append(args, base...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestOps(t *testing.T) {
	code, out, _ := run(t, context.Background(), freePort(t), "ops")
	require.Equal(t, 0, code)
	assert.Equal(t, "greet(string)\nreset()\nsetMessage(string)\n", out)
}

func TestLocalCommands(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)

	code, out, _ := run(t, ctx, port, "get")
	require.Equal(t, 0, code)
	assert.JSONEq(t, `{"port":`+strconv.Itoa(port)+`,"message":"hi"}`, out)

	code, out, _ = run(t, ctx, port, "call", "greet", "Ann")
	require.Equal(t, 0, code)
	assert.Equal(t, "\"hello Ann\"\n", out)

	code, _, errOut := run(t, ctx, port, "call", "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `operation "nope" not found`)

	code, _, errOut = run(t, ctx, port, "get", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown state key")
}

func TestStateFilePersistsLocalChanges(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	file := filepath.Join(t.TempDir(), "state.json")

	code, out, _ := run(t, ctx, port, "set", "message=saved", "--state-file", file)
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"saved"`)

	code, out, _ = run(t, ctx, port, "get", "message", "--state-file", file)
	require.Equal(t, 0, code)
	assert.Equal(t, "\"saved\"\n", out)
}

func TestServeAndDriveRemotely(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan int, 1)
	var serveOut bytes.Buffer
	go func() {
		var stderr bytes.Buffer
		base := []string{"--config", "", "--log-level", "error", "--port", strconv.Itoa(port)}
		served <- execute(ctx, append([]string{"serve"}, base...), &serveOut, &stderr)
	}()

	require.Eventually(t, func() bool {
		return probe.IsAlive(context.Background(), wire.Loopback(port), 200*time.Millisecond)
	}, 5*time.Second, 20*time.Millisecond)

	bg := context.Background()
	code, out, _ := run(t, bg, port, "set", "message=bye")
	require.Equal(t, 0, code)
	assert.JSONEq(t, `{"port":`+strconv.Itoa(port)+`,"message":"bye"}`, out)

	code, out, _ = run(t, bg, port, "get", "message")
	require.Equal(t, 0, code)
	assert.Equal(t, "\"bye\"\n", out, "state lives in the serving process")

	code, out, _ = run(t, bg, port, "call", "greet", "--json", `["Ann"]`)
	require.Equal(t, 0, code)
	assert.Equal(t, "\"hello Ann\"\n", out)

	code, _, errOut := run(t, bg, port, "call", "setMessage", "")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "message must not be empty")

	code, out, _ = run(t, bg, port, "watch", "--interval", "20ms", "--count", "2")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"message": "bye"`)

	cancel()
	select {
	case code := <-served:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, serveOut.String(), "serving on 127.0.0.1:"+strconv.Itoa(port))
}

func TestWatchRejectsBadFlags(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"watch", "--interval", "0", "--count", "1"}, "--interval must be positive"},
		{[]string{"watch", "--interval", "-1s", "--count", "1"}, "--interval must be positive"},
		{[]string{"watch", "--count", "-2"}, "--count must not be negative"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var code int
			var errOut string
			require.NotPanics(t, func() {
				code, _, errOut = run(t, context.Background(), freePort(t), tt.args...)
			})
			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestBuildPatch(t *testing.T) {
	p, err := buildPatch("", []string{"message=bye", "count=3", "flag=true", "list=[1,2]", "eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, state.Patch{
		"message": "bye",
		"count":   float64(3),
		"flag":    true,
		"list":    []any{float64(1), float64(2)},
		"eq":      "a=b",
	}, p)

	p, err = buildPatch(`{"message":"x"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, state.Patch{"message": "x"}, p)

	for _, bad := range [][]string{nil, {"novalue"}, {"=x"}} {
		_, err := buildPatch("", bad)
		assert.Error(t, err, strings.Join(bad, " "))
	}
	_, err = buildPatch("null", nil)
	assert.Error(t, err)
	_, err = buildPatch("{", nil)
	assert.Error(t, err)
}

func TestBadConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"ops", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "config")
}
