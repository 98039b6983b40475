package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/instance"
	"github.com/ln64-git/dynamic-server-app-template/internal/local"
	"github.com/ln64-git/dynamic-server-app-template/internal/metrics"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
)

type app struct {
	instance.Base
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func (a *app) Greet(name string) string { return "hello " + name }

func (a *app) Add(x, y int) int { return x + y }

func (a *app) Fail() error { return errors.New("boom") }

func (a *app) Explode() { panic("kaboom") }

func (a *app) Slow(ms int) int {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return ms
}

func newServer(t *testing.T, opts Options) (*Server, *app) {
	t.Helper()
	a := &app{Message: "hi"}
	a.Port = 2000
	exec, err := local.New(a, local.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	opts.Logger = zap.NewNop()
	return New(exec, opts), a
}

type response struct {
	code   int
	header http.Header
	body   string
}

func do(t *testing.T, h http.Handler, method, path, body string) response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return response{code: rec.Code, header: rec.Header(), body: rec.Body.String()}
}

func TestStateRoundTrip(t *testing.T) {
	srv, a := newServer(t, Options{})
	h := srv.Handler()

	r := do(t, h, http.MethodGet, "/state", "")
	assert.Equal(t, http.StatusOK, r.code)
	assert.JSONEq(t, `{"port":2000,"message":"hi","count":0}`, r.body)

	r = do(t, h, http.MethodPost, "/state", `{"message":"bye"}`)
	assert.Equal(t, http.StatusOK, r.code)
	assert.JSONEq(t, `{"status":"ok","state":{"port":2000,"message":"bye","count":0}}`, r.body)
	assert.Equal(t, "bye", a.Message)

	r = do(t, h, http.MethodGet, "/state", "")
	assert.JSONEq(t, `{"port":2000,"message":"bye","count":0}`, r.body)
}

func TestSetStateIgnoresUnknownAndReadonlyKeys(t *testing.T) {
	srv, a := newServer(t, Options{})

	r := do(t, srv.Handler(), http.MethodPost, "/state", `{"port":1,"count":4,"nope":true}`)
	assert.Equal(t, http.StatusOK, r.code)
	assert.JSONEq(t, `{"status":"ok","state":{"port":2000,"message":"hi","count":4}}`, r.body)
	assert.Equal(t, 4, a.Count)
}

func TestSetStateBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"invalid json", `{"message":`},
		{"array", `["message"]`},
		{"null", `null`},
		{"wrong type", `{"count":"many"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, a := newServer(t, Options{})
			r := do(t, srv.Handler(), http.MethodPost, "/state", tt.body)
			assert.Equal(t, http.StatusBadRequest, r.code)
			assert.Contains(t, r.body, `"error"`)
			assert.Equal(t, "hi", a.Message)
			assert.Equal(t, 0, a.Count)
		})
	}
}

func TestCallOperation(t *testing.T) {
	srv, a := newServer(t, Options{})
	h := srv.Handler()

	r := do(t, h, http.MethodPost, "/greet", `["Ann"]`)
	assert.Equal(t, http.StatusOK, r.code)
	assert.JSONEq(t, `{"status":"ok","result":"hello Ann"}`, r.body)
	assert.Equal(t, "hi", a.Message)

	r = do(t, h, http.MethodPost, "/greet", `"Bob"`)
	assert.JSONEq(t, `{"status":"ok","result":"hello Bob"}`, r.body)

	r = do(t, h, http.MethodPost, "/add", `[2, 3]`)
	assert.JSONEq(t, `{"status":"ok","result":5}`, r.body)
}

func TestCallOperationErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		errMsg string
	}{
		{"unknown operation", http.MethodPost, "/nope", `[]`, http.StatusNotFound, "not found"},
		{"unknown nested path", http.MethodGet, "/a/b", "", http.StatusNotFound, "not found"},
		{"execution failure", http.MethodPost, "/fail", "", http.StatusInternalServerError, "boom"},
		{"panic", http.MethodPost, "/explode", "", http.StatusInternalServerError, "kaboom"},
		{"missing arguments", http.MethodPost, "/greet", "", http.StatusInternalServerError, "wrong number of arguments"},
		{"malformed arguments", http.MethodPost, "/greet", `[`, http.StatusInternalServerError, "malformed"},
		{"wrong verb on operation", http.MethodGet, "/greet", "", http.StatusMethodNotAllowed, "method not allowed"},
		{"wrong verb on state", http.MethodPut, "/state", `{}`, http.StatusMethodNotAllowed, "method not allowed"},
		{"wrong verb on health", http.MethodPost, "/health", "", http.StatusMethodNotAllowed, "method not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, a := newServer(t, Options{})
			r := do(t, srv.Handler(), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, r.code)
			assert.Equal(t, "application/json", r.header.Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal([]byte(r.body), &body))
			assert.Contains(t, body["error"], tt.errMsg)
			assert.NotContains(t, body["error"], "goroutine", "no stack traces")
			assert.Equal(t, "hi", a.Message)
		})
	}
}

func TestServerKeepsServingAfterFailure(t *testing.T) {
	srv, _ := newServer(t, Options{})
	h := srv.Handler()

	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/explode", "").code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/greet", `["x"]`).code)
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, Options{})
	r := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, r.code)
	assert.JSONEq(t, `{"status":"ok","port":2000}`, r.body)
}

func TestRequestID(t *testing.T) {
	srv, _ := newServer(t, Options{})
	h := srv.Handler()

	r := do(t, h, http.MethodGet, "/health", "")
	assert.NotEmpty(t, r.header.Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	srv, _ := newServer(t, Options{Gatherer: reg})
	h := srv.Handler()
	do(t, h, http.MethodGet, "/state", "")

	r := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, r.code)
	assert.Contains(t, r.body, "appserve_http_requests_total")

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/metrics", "").code)

	noMetrics, _ := newServer(t, Options{})
	nh := noMetrics.Handler()
	assert.Equal(t, http.StatusNotFound, do(t, nh, http.MethodGet, "/metrics", "").code)
	assert.Equal(t, http.StatusNotFound, do(t, nh, http.MethodPost, "/metrics", "").code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, nh, http.MethodPost, "/health", "").code)
}

func occupy(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStartOnOccupiedPort(t *testing.T) {
	taken := occupy(t)
	srv, a := newServer(t, Options{})

	port, err := srv.Start(taken)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.Greater(t, port, taken)
	assert.Equal(t, Listening, srv.Phase())
	assert.True(t, a.Serving())
	assert.Equal(t, strconv.Itoa(port), portOf(t, srv.Addr()))

	resp, err := http.Get("http://" + srv.Addr().String() + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap state.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, float64(port), snap["port"])
}

func portOf(t *testing.T, addr net.Addr) string {
	t.Helper()
	_, p, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	return p
}

func TestStartTwice(t *testing.T) {
	srv, _ := newServer(t, Options{})
	_, err := srv.Start(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	_, err = srv.Start(0)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStartNoPort(t *testing.T) {
	taken := occupy(t)
	srv, _ := newServer(t, Options{MaxAttempts: 1})

	_, err := srv.Start(taken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available port")
	assert.Equal(t, Unbound, srv.Phase())
}

func TestShutdownClean(t *testing.T) {
	srv, a := newServer(t, Options{})
	_, err := srv.Start(0)
	require.NoError(t, err)

	select {
	case <-srv.Done():
		t.Fatal("done before shutdown")
	default:
	}

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, Closed, srv.Phase())
	assert.False(t, a.Serving())
	select {
	case <-srv.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after shutdown")
	}
	assert.NoError(t, srv.Wait())

	_, err = http.Get("http://" + srv.Addr().String() + "/health")
	assert.Error(t, err, "listener closed")

	// Idempotent.
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	srv, _ := newServer(t, Options{Grace: 2 * time.Second})
	_, err := srv.Start(0)
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post("http://"+srv.Addr().String()+"/slow", "application/json", strings.NewReader(`[200]`))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, http.StatusOK, <-done)
}

func TestShutdownForced(t *testing.T) {
	srv, _ := newServer(t, Options{Grace: 50 * time.Millisecond})
	_, err := srv.Start(0)
	require.NoError(t, err)

	go func() {
		resp, err := http.Post("http://"+srv.Addr().String()+"/slow", "application/json", strings.NewReader(`[1000]`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	time.Sleep(50 * time.Millisecond)

	err = srv.Shutdown(context.Background())
	assert.ErrorIs(t, err, ErrForcedShutdown)
	assert.Equal(t, Closed, srv.Phase())
}

func TestShutdownBeforeStart(t *testing.T) {
	srv, _ := newServer(t, Options{})
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, Closed, srv.Phase())
	assert.NoError(t, srv.Wait())

	_, err := srv.Start(0)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "listening", Listening.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
