package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/persist"
	"github.com/ln64-git/dynamic-server-app-template/internal/probe"
	"github.com/ln64-git/dynamic-server-app-template/internal/remote"
)

type options struct {
	validate     bool
	host         string
	maxAttempts  int
	probeTimeout time.Duration
	grace        time.Duration
	store        persist.Store
	gatherer     prometheus.Gatherer
	checker      probe.Checker
	client       *remote.Client
	log          *zap.Logger
}

// Option configures a Runtime.
type Option func(*options)

// WithValidation toggles all-or-nothing type checking of patches (default on).
func WithValidation(v bool) Option { return func(o *options) { o.validate = v } }

// WithHost sets the loopback host the server binds and the probe targets.
func WithHost(host string) Option { return func(o *options) { o.host = host } }

// WithMaxAttempts bounds the port search of Serve.
func WithMaxAttempts(n int) Option { return func(o *options) { o.maxAttempts = n } }

// WithProbeTimeout bounds each liveness check.
func WithProbeTimeout(d time.Duration) Option { return func(o *options) { o.probeTimeout = d } }

// WithGrace sets the shutdown grace period of the server.
func WithGrace(d time.Duration) Option { return func(o *options) { o.grace = d } }

// WithStore persists every state change to s.
func WithStore(s persist.Store) Option { return func(o *options) { o.store = s } }

// WithMetrics exposes g on GET /metrics while serving.
func WithMetrics(g prometheus.Gatherer) Option { return func(o *options) { o.gatherer = g } }

// WithChecker replaces the HTTP liveness probe.
func WithChecker(c probe.Checker) Option { return func(o *options) { o.checker = c } }

// WithClient replaces the remote client.
func WithClient(c *remote.Client) Option { return func(o *options) { o.client = c } }

// WithLogger sets the runtime logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }
