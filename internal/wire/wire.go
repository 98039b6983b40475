// Package wire defines the HTTP/JSON protocol spoken between a serving
// instance and its clients: paths, response bodies and peer addresses.
package wire

import (
	"encoding/json"
	"net"
	"strconv"

	"github.com/ln64-git/dynamic-server-app-template/internal/state"
)

// Wire paths served by an authoritative instance.
const (
	StatePath  = "/state"
	HealthPath = "/health"
)

// StatusOK is the status field of every successful response body.
const StatusOK = "ok"

// StateResponse answers POST /state.
type StateResponse struct {
	Status string         `json:"status"`
	State  state.Snapshot `json:"state"`
}

// CallResponse answers POST /<operation>.
type CallResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Port   int    `json:"port"`
}

// OperationPath returns the wire path of an operation.
func OperationPath(name string) string { return "/" + name }

// Address is the host and port of a peer.
type Address struct {
	Host string
	Port int
}

// Loopback returns the address of an instance on this machine.
func Loopback(port int) Address {
	return Address{Host: "127.0.0.1", Port: port}
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URL returns the base URL of the peer.
func (a Address) URL() string {
	return "http://" + a.String()
}
