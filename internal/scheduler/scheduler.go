// Package scheduler runs the background sweeps that move markets through
// their lifecycle:
//  1. close       – active markets past their end time → pending_resolution.
//  2. oracle      – pending markets with a price rule are resolved by the feed.
//  3. settle      – resolved markets are paid out batch by batch.
//  4. rematch     – resting orders are re-matched against the moved pool.
//  5. archive     – finished ledgers are written to the blob store.
//  6. audit       – resolved markets are checked for payout conservation.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/metrics"
	"github.com/evetabi/predex/internal/notify"
	"github.com/evetabi/predex/internal/service"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sweeps
// ──────────────────────────────────────────────────────────────────────────────

// SweepFunc processes up to limit markets and reports how many it handled.
type SweepFunc func(ctx context.Context, limit int) (int, error)

// Sweep is one named periodic job.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      SweepFunc
}

// Locker serialises sweeps across instances. Implemented by notify.Locker.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Services are the engine entry points the standard sweeps call.
type Services struct {
	Markets    *service.MarketService
	Resolution *service.ResolutionService
	Settlement *service.SettlementService
	Orders     *service.OrderService
	Archive    *service.ArchiveService
	Audit      *service.AuditService
}

// DefaultSweeps builds the standard sweep table from the configured intervals.
// The archive sweep is left out when no blob writer is configured.
func DefaultSweeps(svc Services, cfg config.SchedulerConfig) []Sweep {
	sweeps := []Sweep{
		{Name: "close", Interval: cfg.EndInterval, Run: svc.Markets.CloseEndedMarkets},
		{Name: "oracle", Interval: cfg.OracleInterval, Run: svc.Resolution.SweepOracle},
		{Name: "settle", Interval: cfg.SettleInterval, Run: svc.Settlement.SweepUnsettled},
		{Name: "rematch", Interval: cfg.RematchInterval, Run: svc.Orders.SweepRestingOrders},
		{Name: "audit", Interval: cfg.AuditInterval, Run: svc.Audit.SweepAudit},
	}
	if svc.Archive != nil && svc.Archive.Enabled() {
		sweeps = append(sweeps, Sweep{Name: "archive", Interval: cfg.ArchiveInterval, Run: svc.Archive.SweepArchive})
	}
	return sweeps
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs every sweep on its own ticker. Call Run(ctx) once from
// main(); cancel the context to shut it down gracefully.
type Scheduler struct {
	sweeps  []Sweep
	limit   int
	lockTTL time.Duration
	locker  Locker           // nil = single instance, no cross-process lock
	metrics *metrics.Metrics // nil-safe
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(sweeps []Sweep, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sweeps:  sweeps,
		limit:   cfg.BatchLimit,
		lockTTL: cfg.LockTTL,
		logger:  logger.With("component", "scheduler"),
	}
}

// SetLocker makes every sweep run under a distributed lock named after it.
func (s *Scheduler) SetLocker(l Locker) { s.locker = l }

// SetMetrics records sweep durations.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Run launches one goroutine per sweep and blocks until ctx is cancelled
// and every loop has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sw := range s.sweeps {
		if sw.Interval <= 0 || sw.Run == nil {
			s.logger.Warn("sweep disabled", "sweep", sw.Name)
			continue
		}
		wg.Add(1)
		go func(sw Sweep) {
			defer wg.Done()
			s.loop(ctx, sw)
		}(sw)
	}
	s.logger.Info("scheduler started", "sweeps", len(s.sweeps))
	wg.Wait()
	return nil
}

// loop ticks sw until ctx is cancelled.
func (s *Scheduler) loop(ctx context.Context, sw Sweep) {
	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep loop: shutting down", "sweep", sw.Name)
			return
		case <-ticker.C:
			s.runOnce(ctx, sw)
		}
	}
}

// runOnce executes one pass of sw, under the lock when a locker is set.
// Panics are recovered so one bad pass never kills the loop.
func (s *Scheduler) runOnce(ctx context.Context, sw Sweep) {
	defer s.recoverAndLog(sw.Name)

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "sweep:"+sw.Name, s.lockTTL)
		if errors.Is(err, notify.ErrLockHeld) {
			return
		}
		if err != nil {
			s.logger.Warn("sweep lock failed", "sweep", sw.Name, "err", err)
			return
		}
		defer release()
	}

	start := time.Now()
	n, err := sw.Run(ctx, s.limit)
	s.metrics.ObserveSweep(sw.Name, time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("sweep failed", "sweep", sw.Name, "processed", n, "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("sweep processed markets", "sweep", sw.Name, "count", n)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each pass to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(sweep string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler sweep",
			"sweep", sweep, "panic", r)
	}
}
