package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ln64-git/dynamic-server-app-template/internal/dispatch"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
	"github.com/ln64-git/dynamic-server-app-template/internal/wire"
)

var (
	// ErrForcedShutdown is returned by Shutdown when the grace period ran out
	// and open connections were closed.
	ErrForcedShutdown = errors.New("server: grace period expired, connections force-closed")

	// ErrAlreadyStarted is returned by Start on a server that left Unbound.
	ErrAlreadyStarted = errors.New("server: already started")
)

// MalformedPayloadError reports a request body that could not be decoded.
type MalformedPayloadError struct {
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err == nil {
		return "malformed payload: " + e.Reason
	}
	return fmt.Sprintf("malformed payload: %s: %v", e.Reason, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// statusFor maps handler errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		mp *MalformedPayloadError
		ve *state.ValidationError
	)
	switch {
	case errors.As(err, &mp), errors.As(err, &ve):
		return http.StatusBadRequest
	case dispatch.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
