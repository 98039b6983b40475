package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slices"

	"github.com/ln64-git/dynamic-server-app-template/internal/dispatch"
	"github.com/ln64-git/dynamic-server-app-template/internal/metrics"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
	"github.com/ln64-git/dynamic-server-app-template/internal/wire"
)

const maxBody = 1 << 20

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID, withLogging(s.log), withMetrics, withRecover)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found: "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed: "+r.Method+" "+r.URL.Path)
	})

	r.Get(wire.StatePath, s.handleGetState)
	r.Post(wire.StatePath, s.handleSetState)
	r.Get(wire.HealthPath, s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.opts.Gatherer))
	}
	r.HandleFunc("/{operation}", s.handleCall)
	return r
}

// mounted reports whether name is a reserved route this server registers.
func (s *Server) mounted(name string) bool {
	if name == "metrics" && s.opts.Gatherer == nil {
		return false
	}
	return slices.Contains(dispatch.DefaultReserved, name)
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.exec.Snapshot())
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	patch, err := decodePatch(r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.exec.Set(patch)
	if err != nil {
		logger.From(r.Context()).Info("patch rejected", logger.Err(err))
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.StateResponse{Status: wire.StatusOK, State: snap})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, wire.HealthResponse{Status: wire.StatusOK, Port: s.exec.Port()})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")

	// Mounted routes only reach here with a verb they do not serve.
	if s.mounted(name) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed: "+r.Method+" "+r.URL.Path)
		return
	}
	if _, ok := s.exec.Lookup(name); !ok {
		writeErr(w, &dispatch.NotFoundError{Name: name})
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed: "+r.Method+" "+r.URL.Path)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	args, err := dispatch.ParseArgs(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, (&dispatch.ExecutionError{Name: name, Err: err}).Error())
		return
	}

	result, err := s.exec.Call(r.Context(), name, args)
	if err != nil {
		writeErr(w, err)
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, (&dispatch.ExecutionError{Name: name, Err: err}).Error())
		return
	}
	writeJSON(w, http.StatusOK, wire.CallResponse{Status: wire.StatusOK, Result: raw})
}

// decodePatch reads a JSON object. Empty bodies, invalid JSON and non-object
// values are malformed.
func decodePatch(body io.Reader) (state.Patch, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBody))
	if err != nil {
		return nil, &MalformedPayloadError{Reason: "read body", Err: err}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &MalformedPayloadError{Reason: "empty body"}
	}
	if raw[0] != '{' {
		return nil, &MalformedPayloadError{Reason: "body must be a JSON object"}
	}
	var patch state.Patch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, &MalformedPayloadError{Reason: "invalid JSON", Err: err}
	}
	return patch, nil
}
