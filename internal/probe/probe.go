// Package probe answers one question: is an instance already serving at an
// address?
//
// IsAlive never returns an error. Refused connections, timeouts, non-200
// statuses and malformed bodies all read as "not alive", which routes the
// caller to local execution.
package probe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/metrics"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/wire"
)

// DefaultTimeout bounds a single liveness check.
const DefaultTimeout = time.Second

const maxHealthBody = 64 << 10

// Checker decides whether a peer is alive.
type Checker interface {
	IsAlive(ctx context.Context, addr wire.Address) bool
}

// Prober checks liveness over HTTP.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	log     *zap.Logger
}

// New returns a prober with the given hard timeout (DefaultTimeout if <= 0).
func New(timeout time.Duration, log *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     logger.Or(log, "probe"),
	}
}

// IsAlive checks addr with a fresh prober.
func IsAlive(ctx context.Context, addr wire.Address, timeout time.Duration) bool {
	return New(timeout, nil).IsAlive(ctx, addr)
}

// IsAlive reports whether addr answers GET /health with a well-formed body.
func (p *Prober) IsAlive(ctx context.Context, addr wire.Address) bool {
	alive := p.check(ctx, addr)
	result := "dead"
	if alive {
		result = "alive"
	}
	metrics.ProbeResults.WithLabelValues(result).Inc()
	return alive
}

func (p *Prober) check(ctx context.Context, addr wire.Address) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr.URL()+wire.HealthPath, nil)
	if err != nil {
		p.log.Debug("probe request", logger.Addr(addr.String()), logger.Err(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("peer unreachable", logger.Addr(addr.String()), logger.Err(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.log.Debug("peer unhealthy", logger.Addr(addr.String()), logger.Status(resp.StatusCode))
		return false
	}
	var body wire.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxHealthBody)).Decode(&body); err != nil {
		p.log.Debug("malformed health body", logger.Addr(addr.String()), logger.Err(err))
		return false
	}
	return body.Status == wire.StatusOK
}
