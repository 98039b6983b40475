package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/instance"
	"github.com/ln64-git/dynamic-server-app-template/internal/local"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/portalloc"
)

// DefaultGrace is how long in-flight requests may run after Shutdown.
const DefaultGrace = 5 * time.Second

// Phase is a step of the server lifecycle.
type Phase int32

const (
	Unbound Phase = iota
	Binding
	Listening
	Draining
	Closed
)

func (p Phase) String() string {
	switch p {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Listening:
		return "listening"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Server. Zero values pick the defaults.
type Options struct {
	Host        string
	MaxAttempts int
	Grace       time.Duration

	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	Logger *zap.Logger
}

// Server serves one executor over HTTP.
type Server struct {
	exec *local.Executor
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	phase Phase
	http  *http.Server
	addr  net.Addr

	done     chan struct{}
	serveErr error
}

// New returns an Unbound server for exec.
func New(exec *local.Executor, opts Options) *Server {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Server{
		exec: exec,
		opts: opts,
		log:  logger.Or(opts.Logger, "server"),
		done: make(chan struct{}),
	}
}

// Start binds the first free port from preferred upward, records it as the
// instance port and starts serving in the background.
//
// The listener stays bound from the port search to Serve, so no other
// process can take the port in between. On success the instance is marked
// serving and the phase is Listening.
//
// Parameters:
//   - preferred: first port to try; 0 asks the OS for an ephemeral port
//
// Returns:
//   - The bound port
//   - ErrAlreadyStarted if Start or Shutdown ran before
//   - *portalloc.NoAvailablePortError if every candidate port is taken
//
// Example:
//
//	port, err := srv.Start(2000)
//	if err != nil {
//		return err
//	}
//	defer srv.Shutdown(context.Background())
func (s *Server) Start(preferred int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Unbound {
		return 0, ErrAlreadyStarted
	}
	s.setPhase(Binding)

	alloc := portalloc.Allocator{Host: s.opts.Host, MaxAttempts: s.opts.MaxAttempts, Log: s.log}
	ln, err := alloc.Listen(preferred)
	if err != nil {
		s.setPhase(Unbound)
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port

	s.exec.Mutate(func(inst instance.Instance) {
		b := inst.AppBase()
		b.SetPort(port)
		b.MarkServing(true)
	})

	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.setPhase(Listening)
	s.log.Info("listening", logger.Addr(ln.Addr().String()), logger.Port(port))

	go s.serve(s.http, ln)
	return port, nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	defer close(s.done)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("serve", logger.Err(err))
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
	}
}

// Shutdown drains the server. In-flight requests get the grace period,
// bounded further by ctx; after that connections are closed and
// ErrForcedShutdown is returned. Shutting down a server that never started
// just closes it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case Unbound:
		s.setPhase(Closed)
		close(s.done)
		s.mu.Unlock()
		return nil
	case Listening:
	default:
		s.mu.Unlock()
		return nil
	}
	s.setPhase(Draining)
	srv := s.http
	s.mu.Unlock()

	graceCtx, cancel := context.WithTimeout(ctx, s.opts.Grace)
	defer cancel()

	var forced bool
	if err := srv.Shutdown(graceCtx); err != nil {
		forced = true
		s.log.Warn("grace period expired, closing connections", logger.Err(err))
		_ = srv.Close()
	}
	<-s.done

	s.exec.Mutate(func(inst instance.Instance) { inst.AppBase().MarkServing(false) })

	s.mu.Lock()
	s.setPhase(Closed)
	s.mu.Unlock()

	if forced {
		return ErrForcedShutdown
	}
	return nil
}

// Wait blocks until the serve loop exits and returns its error, if any.
func (s *Server) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Done is closed when the serve loop exits.
func (s *Server) Done() <-chan struct{} { return s.done }

// Phase returns the current lifecycle phase.
func (s *Server) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// setPhase is called with s.mu held.
func (s *Server) setPhase(p Phase) {
	s.log.Debug("phase", logger.Phase(p.String()))
	s.phase = p
}
