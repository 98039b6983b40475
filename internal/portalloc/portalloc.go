// Package portalloc finds a free TCP port at or above a preferred one.
//
// A port is probed by binding it and releasing it again. A failed bind means
// the port is in use and the next one is tried, so two processes racing for
// the same preferred port both end up with a port instead of an error.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
)

const (
	// DefaultMaxAttempts is the number of consecutive ports tried.
	DefaultMaxAttempts = 50

	// DefaultHost is the interface instances bind to.
	DefaultHost = "127.0.0.1"

	maxPort = 65535
)

// NoAvailablePortError is returned when every candidate port is taken.
// Attempts counts the ports actually tried, which is fewer than the
// configured maximum when the search reaches port 65535.
type NoAvailablePortError struct {
	From     int
	Attempts int
}

func (e *NoAvailablePortError) Error() string {
	return fmt.Sprintf("no available port in %d attempts starting at %d", e.Attempts, e.From)
}

// Allocator probes ports on one host.
type Allocator struct {
	Host        string
	MaxAttempts int
	Log         *zap.Logger
}

// FindAvailable returns the first port in [preferred, preferred+maxAttempts)
// that can be bound on the loopback interface.
func FindAvailable(preferred, maxAttempts int) (int, error) {
	return Allocator{MaxAttempts: maxAttempts}.FindAvailable(preferred)
}

// FindAvailable returns the first bindable port, releasing it before returning.
func (a Allocator) FindAvailable(preferred int) (int, error) {
	ln, err := a.Listen(preferred)
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("release port %d: %w", port, err)
	}
	return port, nil
}

// Listen binds the first free port and keeps it bound. A preferred port of 0
// asks the OS for an ephemeral port.
func (a Allocator) Listen(preferred int) (net.Listener, error) {
	host, attempts := a.defaults()
	log := logger.Or(a.Log, "portalloc")

	if preferred == 0 {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}
	if preferred < 0 || preferred > maxPort {
		return nil, fmt.Errorf("port %d out of range", preferred)
	}

	tried := 0
	for i := 0; i < attempts; i++ {
		port := preferred + i
		if port > maxPort {
			break
		}
		tried++
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			if port != preferred {
				log.Info("preferred port in use, moved on", logger.Port(preferred), zap.Int("bound", port))
			}
			return ln, nil
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) {
			return nil, err
		}
		log.Debug("port in use", logger.Port(port), logger.Err(err))
	}
	return nil, &NoAvailablePortError{From: preferred, Attempts: tried}
}

func (a Allocator) defaults() (string, int) {
	host, attempts := a.Host, a.MaxAttempts
	if host == "" {
		host = DefaultHost
	}
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return host, attempts
}
