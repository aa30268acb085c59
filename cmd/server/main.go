// Package main is the entry point for the predex prediction market API
// server. It wires together all services and starts the HTTP server
// alongside the WebSocket hub and background scheduler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evetabi/predex/internal/api"
	"github.com/evetabi/predex/internal/app"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/ws"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting predex server", "env", cfg.Server.Env, "port", cfg.Server.Port, "store", cfg.DB.Driver)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Store, collaborators, services ─────────────────────────────────────
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close failed", "err", err)
		}
	}()

	// ── 4. WebSocket Hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(a.Auth, cfg.Server.AllowedOrigins, logger)
	a.SetPublishers(hub)

	// ── 5. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:       a.Auth,
		MarketSvc:     a.Markets,
		TradeSvc:      a.Trades,
		OrderSvc:      a.Orders,
		LiquiditySvc:  a.Liquidity,
		ClaimSvc:      a.Claims,
		ResolutionSvc: a.Resolution,
		DepositSvc:    a.Deposits,
		AccountSvc:    a.Accounts,
		Metrics:       a.Metrics,
		Hub:           hub,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 6. Run hub, scheduler and server until shutdown ───────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("websocket hub started")
		return hub.Run(gctx)
	})

	sched := a.Scheduler()
	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ── 7. Graceful shutdown ──────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		return
	}
	logger.Info("server stopped cleanly")
}
