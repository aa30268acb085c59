package app_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/predex/internal/app"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.OrderBookChangedEvent
}

func (r *recorder) MarketResolved(context.Context, domain.MarketResolvedEvent) error { return nil }

func (r *recorder) OrderBookChanged(_ context.Context, ev domain.OrderBookChangedEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.DB.Driver = "memory"
	cfg.JWT.AccessSecret = "test-secret"
	return cfg
}

func TestNew_MemoryStoreWiresServices(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, memoryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis, "redis is optional")
	assert.False(t, a.Archive.Enabled(), "no bucket, no archive")

	rec := &recorder{}
	a.SetPublishers(rec)

	const user = "0x00000000000000000000000000000000000a11ce"
	require.NoError(t, a.Store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBalance(ctx, user)
		if err != nil {
			return err
		}
		b.Credit(decimal.NewFromInt(200))
		return tx.UpdateBalance(ctx, b)
	}))

	v, err := a.Markets.Create(ctx, domain.CreateMarketRequest{
		Caller:    domain.Caller{Address: user},
		Kind:      domain.KindBinary,
		Question:  "Will it rain?",
		EndTime:   time.Now().Add(time.Hour),
		Liquidity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	_, err = a.Trades.Buy(ctx, domain.TradeRequest{
		User: user, MarketID: v.Market.ID, Outcome: domain.OutcomeYes, Amount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() > 0 }, time.Second, 10*time.Millisecond)

	assert.NotNil(t, a.Scheduler())
	assert.NoError(t, a.Close())
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.DB.Driver = "sqlite"
	_, err := app.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "unknown driver")
}
