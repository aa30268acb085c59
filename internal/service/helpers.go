package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/metrics"
	"github.com/evetabi/predex/internal/notify"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// base: collaborators shared by every service
// ──────────────────────────────────────────────────────────────────────────────

// base carries the store, configuration and the optional collaborators every
// service can be given after construction.
type base struct {
	store     repository.Store
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time
	publisher notify.Publisher
	metrics   *metrics.Metrics
}

func newBase(store repository.Store, cfg *config.Config, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		store:     store,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		publisher: notify.Nop{},
	}
}

// SetClock replaces the wall clock. Tests use it to step through windows.
func (b *base) SetClock(now func() time.Time) { b.now = now }

// SetPublisher injects the event publisher post-construction.
func (b *base) SetPublisher(p notify.Publisher) {
	if p == nil {
		p = notify.Nop{}
	}
	b.publisher = p
}

// SetMetrics injects the metrics sink. A nil sink disables metrics.
func (b *base) SetMetrics(m *metrics.Metrics) { b.metrics = m }

func (b *base) clock() time.Time { return b.now().UTC() }

// publishAsync runs send in a goroutine once the transaction has committed.
// Failures are logged and counted, never returned.
func (b *base) publishAsync(event string, send func(ctx context.Context, p notify.Publisher) error) {
	pub := b.publisher
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := send(ctx, pub); err != nil {
			b.logger.Warn("publish failed", "event", event, "err", err)
			b.metrics.PublishFailed()
		}
	}()
}

// bookChanged publishes an OrderBookChangedEvent with the market's prices.
func (b *base) bookChanged(marketID uuid.UUID, prices []decimal.Decimal, reason string) {
	ev := domain.OrderBookChangedEvent{
		Type:      domain.EventOrderBookChanged,
		MarketID:  marketID,
		Prices:    prices,
		Reason:    reason,
		Timestamp: b.clock(),
	}
	b.publishAsync(string(ev.Type), func(ctx context.Context, p notify.Publisher) error {
		return p.OrderBookChanged(ctx, ev)
	})
}

func (b *base) decimalCfg(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).RoundDown(domain.Scale)
}

// ──────────────────────────────────────────────────────────────────────────────
// Pricing helpers
// ──────────────────────────────────────────────────────────────────────────────

// makerFor builds the pricing engine for m from its current state.
func makerFor(m *domain.Market, opts []*domain.Option) (amm.Maker, error) {
	if m.IsBinary() {
		return amm.NewCPMM(m.YesReserve, m.NoReserve, m.FeeRate), nil
	}
	q := make([]decimal.Decimal, len(opts))
	for i, o := range opts {
		q[i] = o.Reserve
	}
	return amm.NewLMSR(q, m.LiquidityParam, m.FeeRate)
}

// applyReserves writes a quote's post-trade reserves back into the market
// (binary) or its options (multi) and refreshes the option prices.
func applyReserves(m *domain.Market, opts []*domain.Option, reserves []decimal.Decimal, now time.Time) ([]decimal.Decimal, error) {
	if m.IsBinary() {
		m.YesReserve, m.NoReserve = reserves[amm.Yes], reserves[amm.No]
	} else {
		for i, o := range opts {
			o.Reserve = reserves[i]
		}
	}
	mk, err := makerFor(m, opts)
	if err != nil {
		return nil, err
	}
	prices, err := mk.Prices()
	if err != nil {
		return nil, err
	}
	if !m.IsBinary() {
		for i, o := range opts {
			o.Price = prices[i]
			o.UpdatedAt = now
		}
	}
	return prices, nil
}

// lockTradable locks m and, for multi-outcome markets, its options, and
// checks that outcome can be traded at now.
func lockTradable(ctx context.Context, tx repository.Tx, marketID uuid.UUID, outcome domain.Outcome, now time.Time) (*domain.Market, []*domain.Option, error) {
	m, err := tx.LockMarket(ctx, marketID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock market: %w", err)
	}
	if err = m.CheckTradable(now); err != nil {
		return nil, nil, err
	}
	var opts []*domain.Option
	if !m.IsBinary() {
		if opts, err = tx.LockOptions(ctx, marketID); err != nil {
			return nil, nil, fmt.Errorf("lock options: %w", err)
		}
	}
	if !m.ValidOutcome(outcome, len(opts)) {
		return nil, nil, domain.ErrInvalidOutcome
	}
	return m, opts, nil
}

// saveMarket persists m and any options touched by a trade.
func saveMarket(ctx context.Context, tx repository.Tx, m *domain.Market, opts []*domain.Option, now time.Time) error {
	m.UpdatedAt = now
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return fmt.Errorf("update market: %w", err)
	}
	for _, o := range opts {
		if err := tx.UpdateOption(ctx, o); err != nil {
			return fmt.Errorf("update option: %w", err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Balance & position helpers
//
// Each helper locks, mutates and saves in one step so two mutations of the
// same user's row inside one transaction never work on a stale copy.
// ──────────────────────────────────────────────────────────────────────────────

func adjustBalance(ctx context.Context, tx repository.Tx, user string, now time.Time, fn func(b *domain.Balance) error) error {
	b, err := tx.LockBalance(ctx, user)
	if err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}
	if err = fn(b); err != nil {
		return err
	}
	b.UpdatedAt = now
	if err = tx.UpdateBalance(ctx, b); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func credit(ctx context.Context, tx repository.Tx, user string, amount decimal.Decimal, now time.Time) error {
	if amount.IsZero() {
		return nil
	}
	return adjustBalance(ctx, tx, user, now, func(b *domain.Balance) error {
		b.Credit(amount)
		return nil
	})
}

// addShares credits shares bought for cost to the user's position, creating
// it on first purchase.
func addShares(ctx context.Context, tx repository.Tx, user string, marketID uuid.UUID, outcome domain.Outcome, shares, cost decimal.Decimal, now time.Time) error {
	p, err := tx.LockPosition(ctx, user, marketID, outcome)
	if errors.Is(err, domain.ErrPositionNotFound) {
		p = &domain.Position{User: user, MarketID: marketID, Outcome: outcome}
	} else if err != nil {
		return fmt.Errorf("lock position: %w", err)
	}
	p.Add(shares, cost)
	p.UpdatedAt = now
	if err = tx.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// takeShares removes shares from the user's position, deleting it when empty.
func takeShares(ctx context.Context, tx repository.Tx, user string, marketID uuid.UUID, outcome domain.Outcome, shares decimal.Decimal, now time.Time) error {
	p, err := tx.LockPosition(ctx, user, marketID, outcome)
	if errors.Is(err, domain.ErrPositionNotFound) {
		return domain.ErrInsufficientShares
	}
	if err != nil {
		return fmt.Errorf("lock position: %w", err)
	}
	if err = p.Remove(shares); err != nil {
		return err
	}
	if p.Shares.IsZero() {
		if err = tx.DeletePosition(ctx, user, marketID, outcome); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
		return nil
	}
	p.UpdatedAt = now
	if err = tx.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func appendLedger(ctx context.Context, tx repository.Tx, marketID uuid.UUID, user string, action domain.LedgerAction, amount decimal.Decimal, details string, now time.Time) error {
	e := &domain.LedgerEntry{
		ID:        uuid.New(),
		MarketID:  marketID,
		User:      user,
		Action:    action,
		Amount:    amount,
		Details:   details,
		CreatedAt: now,
	}
	if err := tx.AppendLedger(ctx, e); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}
