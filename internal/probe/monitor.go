package probe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/wire"
)

// Status is the last observed liveness of the watched peer.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusAlive   Status = "alive"
	StatusDead    Status = "dead"
)

// Monitor periodically probes one address and reports transitions.
//
// Used by status displays such as the watch command. Routing does not read
// it; every get/set/call probes again.
//
// Thread-safe: all methods may be called concurrently.
type Monitor struct {
	addr      wire.Address
	checker   Checker
	interval  time.Duration
	onChange  func(prev, next Status)
	status    Status
	lastCheck time.Time
	lastAlive time.Time
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

// DefaultInterval is used when NewMonitor is given a non-positive interval.
const DefaultInterval = time.Second

// NewMonitor creates a monitor for addr that checks every interval.
//
// Parameters:
//   - addr: peer to watch
//   - checker: liveness check (usually a *Prober)
//   - interval: time between checks; values <= 0 use DefaultInterval
//
// Example:
//
//	mon := probe.NewMonitor(wire.Loopback(2000), probe.New(time.Second, nil), time.Second)
//	mon.SetOnChange(func(prev, next probe.Status) { fmt.Println(prev, "->", next) })
//	mon.Start(ctx)
//	defer mon.Stop()
func NewMonitor(addr wire.Address, checker Checker, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		addr:     addr,
		checker:  checker,
		interval: interval,
		status:   StatusUnknown,
		log:      logger.Named("monitor"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnChange sets the callback invoked when the status changes. The callback
// runs on the monitor goroutine without the lock held.
func (m *Monitor) SetOnChange(fn func(prev, next Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetLogger replaces the monitor logger.
func (m *Monitor) SetLogger(l *zap.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = l
}

// Start launches the monitoring goroutine and returns immediately. The
// goroutine checks once, then on every tick, until ctx is done or Stop is
// called. Once Stop returns no further callbacks run.
func (m *Monitor) Start(ctx context.Context) {
	if ctx == nil {
		ctx = m.ctx
	}
	m.wg.Add(1)
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || m.ctx.Err() != nil {
			return
		}
		m.check(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitoring goroutine and waits for it to return.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Status returns the last observed status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastAlive returns when the peer last answered, zero if never.
func (m *Monitor) LastAlive() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAlive
}

// Address returns the watched address.
func (m *Monitor) Address() wire.Address { return m.addr }

func (m *Monitor) check(ctx context.Context) {
	alive := m.checker.IsAlive(ctx, m.addr)

	m.mu.Lock()
	now := time.Now()
	m.lastCheck = now
	prev := m.status
	next := StatusDead
	if alive {
		next = StatusAlive
		m.lastAlive = now
	}
	m.status = next
	cb := m.onChange
	log := m.log
	m.mu.Unlock()

	if prev != next {
		log.Info("peer status changed", logger.Addr(m.addr.String()),
			zap.String("from", string(prev)), zap.String("to", string(next)))
		if cb != nil {
			cb(prev, next)
		}
	}
}
