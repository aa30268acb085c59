package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/evetabi/predex/internal/repository/memory"
	"github.com/evetabi/predex/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d = decimal.RequireFromString

const (
	alice   = "0x00000000000000000000000000000000000a11ce"
	bob     = "0x0000000000000000000000000000000000000b0b"
	carol   = "0x00000000000000000000000000000000000ca201"
	creator = "0x00000000000000000000000000000000c4ea7042"
	admin   = "0x00000000000000000000000000000000000ad314"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeFeed struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeFeed) Price(context.Context, string) (decimal.Decimal, error) {
	f.calls++
	return f.price, f.err
}

type fakeVerifier struct {
	amount decimal.Decimal
	err    error
}

func (v *fakeVerifier) VerifyContractTx(context.Context, string, string) error { return v.err }

func (v *fakeVerifier) VerifyDeposit(context.Context, string, string) (decimal.Decimal, error) {
	return v.amount, v.err
}

// ── Harness ───────────────────────────────────────────────────────────────────

type harness struct {
	t     *testing.T
	ctx   context.Context
	cfg   *config.Config
	store *memory.Store
	clock *fakeClock
	feed  *fakeFeed

	markets    *service.MarketService
	trades     *service.TradeService
	liquidity  *service.LiquidityService
	orders     *service.OrderService
	resolution *service.ResolutionService
	settlement *service.SettlementService
	claims     *service.ClaimService
	audit      *service.AuditService
	accounts   *service.AccountService
}

type clocked interface{ SetClock(func() time.Time) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.JWT.AccessSecret = "test-secret"
	cfg.Admins = []string{admin}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		cfg:   cfg,
		store: store,
		clock: &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		feed:  &fakeFeed{},

		markets:    service.NewMarketService(store, cfg, logger),
		trades:     service.NewTradeService(store, cfg, logger),
		liquidity:  service.NewLiquidityService(store, cfg, logger),
		orders:     service.NewOrderService(store, cfg, logger),
		resolution: service.NewResolutionService(store, cfg, logger),
		settlement: service.NewSettlementService(store, cfg, logger),
		claims:     service.NewClaimService(store, cfg, logger),
		audit:      service.NewAuditService(store, cfg, logger),
		accounts:   service.NewAccountService(store, cfg, logger),
	}
	h.resolution.SetPriceFeed(h.feed)
	for _, s := range []clocked{h.markets, h.trades, h.liquidity, h.orders, h.resolution, h.settlement, h.claims, h.audit} {
		s.SetClock(h.clock.Now)
	}
	return h
}

// fund credits amount to user's available balance.
func (h *harness) fund(user string, amount string) {
	h.t.Helper()
	require.NoError(h.t, h.store.WithTx(h.ctx, func(tx repository.Tx) error {
		b, err := tx.LockBalance(h.ctx, user)
		if err != nil {
			return err
		}
		b.Credit(d(amount))
		return tx.UpdateBalance(h.ctx, b)
	}))
}

func (h *harness) balance(user string) *domain.Balance {
	h.t.Helper()
	b, err := h.accounts.Balance(h.ctx, user)
	require.NoError(h.t, err)
	return b
}

func (h *harness) available(user string) decimal.Decimal {
	return h.balance(user).Available
}

// binaryMarket creates a binary market seeded with liquidity that ends in an
// hour, at the default fee.
func (h *harness) binaryMarket(liquidity string) *domain.Market {
	h.t.Helper()
	return h.binaryMarketFee(liquidity, "0")
}

func (h *harness) binaryMarketFee(liquidity, fee string) *domain.Market {
	h.t.Helper()
	h.fund(creator, liquidity)
	v, err := h.markets.Create(h.ctx, domain.CreateMarketRequest{
		Caller:    domain.Caller{Address: creator},
		Kind:      domain.KindBinary,
		Question:  "Will it rain?",
		EndTime:   h.clock.Now().Add(time.Hour),
		Liquidity: d(liquidity),
		FeeRate:   d(fee),
	})
	require.NoError(h.t, err)
	return v.Market
}

func (h *harness) market(id uuid.UUID) *domain.Market {
	h.t.Helper()
	m, err := h.store.GetMarket(h.ctx, id)
	require.NoError(h.t, err)
	return m
}

func (h *harness) position(user string, marketID uuid.UUID, o domain.Outcome) decimal.Decimal {
	h.t.Helper()
	ps, err := h.accounts.Positions(h.ctx, user)
	require.NoError(h.t, err)
	for _, p := range ps {
		if p.MarketID == marketID && p.Outcome == o {
			return p.Shares
		}
	}
	return decimal.Zero
}

func (h *harness) buy(user string, marketID uuid.UUID, o domain.Outcome, amount string) *service.TradeResult {
	h.t.Helper()
	res, err := h.trades.Buy(h.ctx, domain.TradeRequest{User: user, MarketID: marketID, Outcome: o, Amount: d(amount)})
	require.NoError(h.t, err)
	return res
}

// resolveBy proposes outcome as the creator and finalizes after the window.
func (h *harness) resolveBy(marketID uuid.UUID, o domain.Outcome) *service.FinalizeResult {
	h.t.Helper()
	if m := h.market(marketID); h.clock.Now().Before(m.EndTime) {
		h.clock.Advance(m.EndTime.Sub(h.clock.Now()))
	}
	p, err := h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: creator}, MarketID: marketID, Outcome: o,
	})
	require.NoError(h.t, err)
	h.clock.Advance(h.cfg.Engine.DefaultWindow)
	res, err := h.resolution.Finalize(h.ctx, domain.FinalizeRequest{
		Caller: domain.Caller{Address: creator}, ProposalID: p.ID,
	})
	require.NoError(h.t, err)
	return res
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}
