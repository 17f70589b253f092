package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sakaibot/internal/domain/metrics"
	"sakaibot/internal/infra/logger"

	tgupdates "github.com/gotd/td/telegram/updates"
	"go.uber.org/zap"
)

// Runner orchestrates the Telegram client's run/shutdown cycle: log in,
// start every service in a fixed order, block until the context is done,
// then stop everything in reverse order. Mirrors the shape of a classic
// start/stop service supervisor, just over SakaiBot's own services instead
// of notification/filter machinery.
type Runner struct {
	app *App

	updatesCancel context.CancelFunc
	updatesWG     sync.WaitGroup

	cleanupCancel context.CancelFunc
	cleanupWG     sync.WaitGroup
}

// NewRunner builds a Runner bound to app's already-wired collaborators.
func NewRunner(app *App) *Runner {
	return &Runner{app: app}
}

// Run logs in, starts every service, and blocks until the app's context is
// cancelled. It returns once shutdown has completed.
func (r *Runner) Run() error {
	a := r.app
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	var shutdownWG sync.WaitGroup
	shutdownWG.Add(1)
	go func() {
		defer shutdownWG.Done()
		<-a.ctx.Done()
		logger.Debug("shutdown signal received, stopping runner...")
		r.stopAllServices()
		clientCancel()
	}()

	return a.waiter.Run(clientCtx, func(ctx context.Context) error {
		return a.cl.Client.Run(ctx, func(ctx context.Context) error {
			logger.Info("SakaiBot running...")

			if err := a.cl.Login(ctx); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			self, err := a.cl.Self(ctx)
			if err != nil {
				return fmt.Errorf("self: %w", err)
			}
			logger.Logger().Info("logged in as",
				zap.String("first_name", self.FirstName),
				zap.String("username", self.Username),
				zap.Int64("id", self.ID),
			)

			if err := a.peers.LoadFromStorage(ctx); err != nil {
				logger.Errorf("load peers from storage: %v", err)
			}
			if err := a.peers.RefreshDialogs(ctx, a.cl.API); err != nil {
				logger.Errorf("refresh dialogs: %v", err)
			}

			r.startAllServices(ctx, self.ID)

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

func (r *Runner) startAllServices(ctx context.Context, selfID int64) {
	a := r.app

	logger.Debug("starting service rate_limiter")
	a.rateLimit.Start()
	logger.Debug("service rate_limiter started")

	logger.Debug("starting service analyze_queue")
	a.analyzeQ.Start()
	logger.Debug("service analyze_queue started")

	logger.Debug("starting service health_monitor")
	go a.healthMon.Run(ctx)
	logger.Debug("service health_monitor started")

	logger.Debug("starting service dispatcher_lanes")
	a.dispatcher.Start(ctx)
	logger.Debug("service dispatcher_lanes started")

	logger.Debug("starting service updates_manager")
	updatesCtx, updatesCancel := context.WithCancel(ctx)
	r.updatesCancel = updatesCancel
	r.updatesWG.Add(1)
	go func() {
		defer r.updatesWG.Done()
		err := a.updMgr.Run(updatesCtx, a.cl.API, selfID, tgupdates.AuthOptions{Forget: false})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("updates manager stopped: %v", err)
			a.stop()
		}
	}()
	logger.Debug("service updates_manager started")

	logger.Debug("starting service peer_cache_cleaner")
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	r.cleanupCancel = cleanupCancel
	r.cleanupWG.Add(1)
	go func() {
		defer r.cleanupWG.Done()
		r.peerCacheCleanupLoop(cleanupCtx)
	}()
	logger.Debug("service peer_cache_cleaner started")
}

// peerCacheCleanupLoop purges expired peer-cache entries every cleanPeriod
// until ctx is cancelled.
func (r *Runner) peerCacheCleanupLoop(ctx context.Context) {
	a := r.app
	ticker := time.NewTicker(cleanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.peerCache.Purge(); err != nil {
				logger.Errorf("purge peer cache: %v", err)
			} else if n > 0 {
				logger.Debugf("peer cache: purged %d expired entries", n)
			}
		}
	}
}

func (r *Runner) stopAllServices() {
	a := r.app

	logger.Debug("stopping service peer_cache_cleaner")
	if r.cleanupCancel != nil {
		r.cleanupCancel()
	}
	r.cleanupWG.Wait()
	logger.Debug("service peer_cache_cleaner stopped")

	logger.Debug("stopping service updates_manager")
	if r.updatesCancel != nil {
		r.updatesCancel()
	}
	r.updatesWG.Wait()
	logger.Debug("service updates_manager stopped")

	a.router.Wait()

	logger.Debug("stopping service health_monitor")
	a.healthMon.Shutdown()
	logger.Debug("service health_monitor stopped")

	logger.Debug("stopping service analyze_queue")
	a.analyzeQ.Stop()
	logger.Debug("service analyze_queue stopped")

	logger.Debug("stopping service rate_limiter")
	a.rateLimit.Stop()
	logger.Debug("service rate_limiter stopped")

	if a.peers != nil {
		logger.Debug("stopping service peers_manager")
		if err := a.peers.Close(); err != nil {
			logger.Errorf("close peers manager: %v", err)
		}
		logger.Debug("service peers_manager stopped")
	}

	if a.peerCache != nil {
		logger.Debug("stopping service peer_cache")
		if err := a.peerCache.Close(); err != nil {
			logger.Errorf("close peer cache: %v", err)
		}
		logger.Debug("service peer_cache stopped")
	}

	if a.lock != nil {
		logger.Debug("releasing instance lock")
		if err := a.lock.Release(); err != nil {
			logger.Errorf("release instance lock: %v", err)
		}
	}

	logMetricsSnapshot(a.metrics)
}

// logMetricsSnapshot writes every recorded counter and timing summary to
// the log once, at shutdown, since SakaiBot has no metrics backend to
// export to continuously.
func logMetricsSnapshot(m *metrics.Collector) {
	snap := m.Snapshot()
	if len(snap.Counters) == 0 && len(snap.Timings) == 0 {
		return
	}
	for name, count := range snap.Counters {
		logger.Logger().Info("metrics counter", zap.String("metric", name), zap.Int64("value", count))
	}
	for name, stats := range snap.Timings {
		logger.Logger().Info("metrics timing",
			zap.String("metric", name),
			zap.Int("count", stats.Count),
			zap.Float64("avg_ms", stats.Avg),
			zap.Float64("p95_ms", stats.P95),
			zap.Float64("p99_ms", stats.P99),
		)
	}
}

