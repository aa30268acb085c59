// Package app wires the store, collaborators and services shared by the
// API server and the back office from one Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"

	s3blob "github.com/evetabi/predex/internal/blob/s3"
	"github.com/evetabi/predex/internal/chain"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/metrics"
	"github.com/evetabi/predex/internal/notify"
	"github.com/evetabi/predex/internal/repository"
	"github.com/evetabi/predex/internal/repository/memory"
	"github.com/evetabi/predex/internal/repository/postgres"
	"github.com/evetabi/predex/internal/scheduler"
	"github.com/evetabi/predex/internal/service"
)

// App holds every service built from one configuration.
type App struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Store   repository.Store
	Metrics *metrics.Metrics
	Redis   *redis.Client // nil when Redis is not configured

	Auth       *service.AuthService
	Price      *service.PriceService
	Markets    *service.MarketService
	Trades     *service.TradeService
	Orders     *service.OrderService
	Liquidity  *service.LiquidityService
	Resolution *service.ResolutionService
	Settlement *service.SettlementService
	Claims     *service.ClaimService
	Audit      *service.AuditService
	Deposits   *service.DepositService
	Accounts   *service.AccountService
	Archive    *service.ArchiveService

	closers []func() error
}

// publisherAware is implemented by every engine service.
type publisherAware interface {
	SetPublisher(notify.Publisher)
	SetMetrics(*metrics.Metrics)
}

// New connects the configured store and external collaborators and builds
// the services. Optional collaborators (Redis, chain RPC, S3) are skipped
// when their config is empty. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger, Metrics: metrics.New("predex")}

	// ── Store ─────────────────────────────────────────────────────────────────
	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr != "" {
		a.Redis, err = notify.NewRedisClient(ctx, notify.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: 3,
			TLSEnabled: cfg.Redis.TLS,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.closers = append(a.closers, a.Redis.Close)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// ── Chain verifier ────────────────────────────────────────────────────────
	var verifier *chain.Verifier
	if cfg.Chain.RPCURL != "" {
		client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		verifier = chain.NewVerifier(client, chain.Config{
			Treasury:      cfg.Chain.Treasury,
			Token:         cfg.Chain.Token,
			Decimals:      int32(cfg.Chain.Decimals),
			Confirmations: uint64(cfg.Chain.Confirmations),
			Timeout:       cfg.Chain.Timeout,
		})
		logger.Info("chain verifier enabled", "treasury", cfg.Chain.Treasury)
	} else {
		logger.Warn("CHAIN_RPC_URL not set: deposits and contract-backed resolution are disabled")
	}

	// ── Archive writer ────────────────────────────────────────────────────────
	var writer service.BlobWriter
	if cfg.S3.Bucket != "" {
		w, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		}, cfg.S3.Prefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		writer = w
	}

	// ── Services ──────────────────────────────────────────────────────────────
	a.Auth = service.NewAuthService(cfg)
	a.Price = service.NewPriceService(cfg)
	a.Markets = service.NewMarketService(store, cfg, logger)
	a.Trades = service.NewTradeService(store, cfg, logger)
	a.Orders = service.NewOrderService(store, cfg, logger)
	a.Liquidity = service.NewLiquidityService(store, cfg, logger)
	a.Resolution = service.NewResolutionService(store, cfg, logger)
	a.Settlement = service.NewSettlementService(store, cfg, logger)
	a.Claims = service.NewClaimService(store, cfg, logger)
	a.Audit = service.NewAuditService(store, cfg, logger)
	a.Accounts = service.NewAccountService(store, cfg, logger)
	a.Archive = service.NewArchiveService(store, cfg, logger, writer, a.Audit)
	if verifier != nil {
		a.Deposits = service.NewDepositService(store, cfg, logger, verifier)
		a.Resolution.SetVerifier(verifier)
	} else {
		a.Deposits = service.NewDepositService(store, cfg, logger, nil)
	}
	a.Resolution.SetPriceFeed(a.Price)

	for _, s := range a.engine() {
		s.SetMetrics(a.Metrics)
	}
	return a, nil
}

// openStore selects the repository by cfg.DB.Driver.
func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	switch a.Cfg.DB.Driver {
	case "memory":
		a.Logger.Warn("using the in-memory store: state is lost on exit")
		return memory.New(), nil
	case "postgres", "":
		db, err := sqlx.ConnectContext(ctx, "postgres", a.Cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("app.openStore: connect: %w", err)
		}
		db.SetMaxOpenConns(a.Cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(a.Cfg.DB.MaxIdleConns)
		db.SetConnMaxLifetime(a.Cfg.DB.ConnMaxLifetime)
		a.closers = append(a.closers, db.Close)
		a.Logger.Info("database connected")

		if err = postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("app.openStore: %w", err)
		}
		a.Logger.Info("migrations applied")
		return postgres.New(db), nil
	}
	return nil, fmt.Errorf("app.openStore: unknown driver %q", a.Cfg.DB.Driver)
}

// engine lists the services that publish events and record metrics.
func (a *App) engine() []publisherAware {
	return []publisherAware{
		a.Markets, a.Trades, a.Orders, a.Liquidity, a.Resolution,
		a.Settlement, a.Claims, a.Audit, a.Deposits, a.Archive,
	}
}

// SetPublishers fans committed events out to pubs plus, when Redis is
// configured, the Redis channels.
func (a *App) SetPublishers(pubs ...notify.Publisher) {
	if a.Redis != nil {
		pubs = append(pubs, notify.NewRedisPublisher(a.Redis, a.Cfg.Redis.ChannelPrefix))
	}
	fan := notify.NewFanout(a.Logger, pubs...)
	for _, s := range a.engine() {
		s.SetPublisher(fan)
	}
}

// Scheduler builds the background sweeps over the App's services. Sweeps
// take a Redis lock when Redis is configured so replicas do not overlap.
func (a *App) Scheduler() *scheduler.Scheduler {
	sched := scheduler.NewScheduler(scheduler.DefaultSweeps(scheduler.Services{
		Markets:    a.Markets,
		Resolution: a.Resolution,
		Settlement: a.Settlement,
		Orders:     a.Orders,
		Archive:    a.Archive,
		Audit:      a.Audit,
	}, a.Cfg.Scheduler), a.Cfg.Scheduler, a.Logger)
	sched.SetMetrics(a.Metrics)
	if a.Redis != nil {
		sched.SetLocker(notify.NewLocker(a.Redis))
	}
	return sched
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
