// Package health implements ConnectionHealthMonitor: a periodic "who am I"
// probe against the Telegram client, with exponential backoff on repeated
// failures, escalating log severity, an external-restart-hook escalation
// after a configurable failure count, and a recovery callback invoked once
// the connection is confirmed healthy again.
//
// The generation-channel wait pattern (a channel that is replaced and
// closed on each state transition so blocked waiters wake exactly once)
// follows the same shape as the teacher's connection manager.
package health

import (
	"context"
	"errors"
	"io"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"
)

// Config controls probe cadence, backoff, and escalation thresholds.
type Config struct {
	// HealthInterval is how often a successful connection is re-probed.
	HealthInterval time.Duration
	// ProbeTimeout bounds each individual probe call.
	ProbeTimeout time.Duration
	// BaseBackoff and MaxBackoff bound the reconnect retry delay:
	// min(BaseBackoff * 2^(failures-1), MaxBackoff).
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RestartThreshold is the consecutive-failure count after which
	// RestartHook is invoked before the next reconnect attempt.
	RestartThreshold int
	// RestartHook, if set, is an external command invoked to restart a
	// proxy or other dependency the connection relies on.
	RestartHook     string
	RestartHookArgs []string
	RestartTimeout  time.Duration
}

// DefaultConfig mirrors spec.md's defaults.
func DefaultConfig() Config {
	return Config{
		HealthInterval:   120 * time.Second,
		ProbeTimeout:     10 * time.Second,
		BaseBackoff:      5 * time.Second,
		MaxBackoff:       2 * time.Minute,
		RestartThreshold: 5,
		RestartTimeout:   30 * time.Second,
	}
}

// Prober is the subset of *telegram.Client the monitor needs.
type Prober interface {
	Self(ctx context.Context) (any, error)
}

// selfClient adapts *telegram.Client's Self method (which returns a
// *tg.User) to the Prober shape; tests supply their own Prober instead.
type selfClient struct {
	client *telegram.Client
}

// NewProber builds the production Prober backed by a live client.
func NewProber(client *telegram.Client) Prober {
	return &selfClient{client: client}
}

func (s *selfClient) Self(ctx context.Context) (any, error) {
	return s.client.Self(ctx)
}

// Monitor runs the probe loop and exposes WaitOnline/MarkDisconnected to
// the rest of the app, same as the teacher's connection manager, but with
// added escalation and recovery-callback hooks per spec.
type Monitor struct {
	cfg    Config
	prober Prober
	log    *zap.Logger

	connected atomic.Bool

	mu            sync.RWMutex
	waitCh        chan struct{}
	monitorCancel context.CancelFunc

	consecutiveFailures atomic.Int64

	onRecover func()

	// shutdownCh is a permanently-closed sentinel handed out by
	// currentWaitCh once Shutdown has run, so every WaitOnline caller
	// converges on the same channel instance instead of each observing a
	// fresh one and looping forever.
	shutdownCh chan struct{}
}

// New builds a Monitor in the connected state. Call Run to start the
// steady-state probe loop; call MarkDisconnected to force a reconnect
// cycle (e.g. after an RPC call surfaces a network error).
func New(cfg Config, prober Prober, log *zap.Logger, onRecover func()) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{cfg: cfg, prober: prober, log: log, onRecover: onRecover}
	m.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	m.waitCh = ready
	m.shutdownCh = make(chan struct{})
	close(m.shutdownCh)
	return m
}

// WaitOnline blocks until the connection is healthy or ctx is done.
func (m *Monitor) WaitOnline(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if m.connected.Load() {
		return
	}
	for {
		ch := m.currentWaitCh()
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if ch == m.currentWaitCh() {
				return
			}
		}
	}
}

func (m *Monitor) currentWaitCh() <-chan struct{} {
	m.mu.RLock()
	ch := m.waitCh
	sdCh := m.shutdownCh
	m.mu.RUnlock()
	if ch == nil {
		return sdCh
	}
	return ch
}

// Run starts the steady-state probe loop: every HealthInterval, attempt a
// lightweight call; on failure, fall into the reconnect/backoff loop. Run
// blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.connected.Load() {
				m.probeOnce(ctx)
			}
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	_, err := m.prober.Self(probeCtx)
	cancel()

	if err == nil {
		m.consecutiveFailures.Store(0)
		return
	}

	m.markDisconnected(ctx)
}

// MarkDisconnected transitions to offline and starts the reconnect loop.
// Idempotent: a call while already offline is a no-op.
func (m *Monitor) MarkDisconnected(ctx context.Context) {
	m.markDisconnected(ctx)
}

func (m *Monitor) markDisconnected(ctx context.Context) {
	if !m.connected.CompareAndSwap(true, false) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
	}
	m.waitCh = make(chan struct{})
	reconnectCtx, cancel := context.WithCancel(ctx)
	m.monitorCancel = cancel
	m.mu.Unlock()

	m.log.Debug("connection lost, starting reconnect loop")
	go m.reconnectLoop(reconnectCtx)
}

// HandleError inspects err from an RPC call; if it looks like a network
// failure it marks the connection disconnected and returns true.
func (m *Monitor) HandleError(ctx context.Context, err error) bool {
	if !isNetworkError(err) {
		return false
	}
	m.markDisconnected(ctx)
	return true
}

func (m *Monitor) reconnectLoop(ctx context.Context) {
	restartFired := false

	for {
		if ctx.Err() != nil {
			return
		}

		failures := m.consecutiveFailures.Add(1)
		m.logAtSeverity(failures)

		if int(failures) >= m.cfg.RestartThreshold && !restartFired {
			m.runRestartHook(ctx)
			restartFired = true
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		_, err := m.prober.Self(probeCtx)
		cancel()

		if err == nil {
			m.consecutiveFailures.Store(0)
			m.markConnected()
			return
		}

		delay := backoffDelay(m.cfg.BaseBackoff, m.cfg.MaxBackoff, int(failures))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (m *Monitor) logAtSeverity(failures int64) {
	switch {
	case failures >= 5:
		m.log.Error("connection health check failing repeatedly", zap.Int64("consecutive_failures", failures))
	case failures >= 3:
		m.log.Warn("connection health check failing", zap.Int64("consecutive_failures", failures))
	default:
		m.log.Info("connection health check failed", zap.Int64("consecutive_failures", failures))
	}
}

func (m *Monitor) runRestartHook(ctx context.Context) {
	if m.cfg.RestartHook == "" {
		return
	}
	hookCtx, cancel := context.WithTimeout(ctx, m.cfg.RestartTimeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, m.cfg.RestartHook, m.cfg.RestartHookArgs...)
	if err := cmd.Run(); err != nil {
		m.log.Warn("restart hook failed", zap.Error(err))
		return
	}
	m.log.Info("restart hook invoked")
}

func (m *Monitor) markConnected() {
	if m.connected.Swap(true) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	ch := m.waitCh
	if ch == nil {
		ch = make(chan struct{})
		m.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	m.mu.Unlock()

	m.log.Info("connection restored")
	if m.onRecover != nil {
		m.onRecover()
	}
}

// Shutdown stops the reconnect loop and releases any blocked waiters.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	wait := m.waitCh
	m.waitCh = nil
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		default:
			close(wait)
		}
	}
}

func backoffDelay(base, max time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) || errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
