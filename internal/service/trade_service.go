package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeResult describes an executed market order.
type TradeResult struct {
	MarketID uuid.UUID         `json:"market_id"`
	Outcome  domain.Outcome    `json:"outcome"`
	Side     domain.Side       `json:"side"`
	Shares   decimal.Decimal   `json:"shares"`
	Amount   decimal.Decimal   `json:"amount"` // paid (buy) or received (sell)
	Fee      decimal.Decimal   `json:"fee"`
	AvgPrice decimal.Decimal   `json:"avg_price"`
	Prices   []decimal.Decimal `json:"prices"` // after the trade
}

// TradeService executes market orders against the AMM.
type TradeService struct {
	base
}

// NewTradeService creates a TradeService.
func NewTradeService(store repository.Store, cfg *config.Config, logger *slog.Logger) *TradeService {
	return &TradeService{base: newBase(store, cfg, logger)}
}

func (s *TradeService) checkMin(amount decimal.Decimal) error {
	if amount.LessThan(s.decimalCfg(s.cfg.Engine.MinTradeAmount)) {
		return domain.ErrInvalidAmount
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Buy
// ──────────────────────────────────────────────────────────────────────────────

// Buy spends req.Amount on req.Outcome. The fee stays outside the reserves
// and is added to FeesCollected; the gross amount counts toward BuyVolume.
func (s *TradeService) Buy(ctx context.Context, req domain.TradeRequest) (*TradeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	amount := req.Amount.RoundDown(domain.Scale)
	if err := s.checkMin(amount); err != nil {
		return nil, err
	}
	user := domain.NormalizeAddress(req.User)
	now := s.clock()

	var res *TradeResult
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, opts, err := lockTradable(ctx, tx, req.MarketID, req.Outcome, now)
		if err != nil {
			return err
		}
		mk, err := makerFor(m, opts)
		if err != nil {
			return err
		}
		q, err := mk.QuoteBuy(int(req.Outcome), amount)
		if err != nil {
			return err
		}
		if req.MinOut.IsPositive() && q.SharesOut.LessThan(req.MinOut) {
			return domain.ErrSlippageExceeded
		}

		if err = adjustBalance(ctx, tx, user, now, func(b *domain.Balance) error {
			return b.Debit(q.AmountIn)
		}); err != nil {
			return err
		}
		if err = addShares(ctx, tx, user, m.ID, req.Outcome, q.SharesOut, q.AmountIn, now); err != nil {
			return err
		}

		prices, err := applyReserves(m, opts, q.Reserves, now)
		if err != nil {
			return err
		}
		m.BuyVolume = m.BuyVolume.Add(q.AmountIn)
		m.FeesCollected = m.FeesCollected.Add(q.Fee)
		if err = saveMarket(ctx, tx, m, opts, now); err != nil {
			return err
		}

		res = &TradeResult{
			MarketID: m.ID,
			Outcome:  req.Outcome,
			Side:     domain.SideBuy,
			Shares:   q.SharesOut,
			Amount:   q.AmountIn,
			Fee:      q.Fee,
			AvgPrice: q.AvgPrice,
			Prices:   prices,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trade_service.Buy: %w", err)
	}

	s.metrics.Trade("amm", string(domain.SideBuy), res.Amount.InexactFloat64())
	s.bookChanged(res.MarketID, res.Prices, "buy")
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Sell
// ──────────────────────────────────────────────────────────────────────────────

// Sell returns req.Amount shares of req.Outcome to the AMM. The net payout
// counts toward SellVolume.
func (s *TradeService) Sell(ctx context.Context, req domain.TradeRequest) (*TradeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	shares := req.Amount.RoundDown(domain.Scale)
	if err := s.checkMin(shares); err != nil {
		return nil, err
	}
	user := domain.NormalizeAddress(req.User)
	now := s.clock()

	var res *TradeResult
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, opts, err := lockTradable(ctx, tx, req.MarketID, req.Outcome, now)
		if err != nil {
			return err
		}
		if err = takeShares(ctx, tx, user, m.ID, req.Outcome, shares, now); err != nil {
			return err
		}
		mk, err := makerFor(m, opts)
		if err != nil {
			return err
		}
		q, err := mk.QuoteSell(int(req.Outcome), shares)
		if err != nil {
			return err
		}
		if req.MinOut.IsPositive() && q.Payout.LessThan(req.MinOut) {
			return domain.ErrSlippageExceeded
		}
		if err = credit(ctx, tx, user, q.Payout, now); err != nil {
			return err
		}

		prices, err := applyReserves(m, opts, q.Reserves, now)
		if err != nil {
			return err
		}
		m.SellVolume = m.SellVolume.Add(q.Payout)
		m.FeesCollected = m.FeesCollected.Add(q.Fee)
		if err = saveMarket(ctx, tx, m, opts, now); err != nil {
			return err
		}

		res = &TradeResult{
			MarketID: m.ID,
			Outcome:  req.Outcome,
			Side:     domain.SideSell,
			Shares:   shares,
			Amount:   q.Payout,
			Fee:      q.Fee,
			AvgPrice: q.AvgPrice,
			Prices:   prices,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trade_service.Sell: %w", err)
	}

	s.metrics.Trade("amm", string(domain.SideSell), res.Amount.InexactFloat64())
	s.bookChanged(res.MarketID, res.Prices, "sell")
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Quote
// ──────────────────────────────────────────────────────────────────────────────

// Quote prices a market order without executing it. For buys amount is the
// currency to spend, for sells the shares to sell.
func (s *TradeService) Quote(ctx context.Context, marketID uuid.UUID, outcome domain.Outcome, side domain.Side, amount decimal.Decimal) (*TradeResult, error) {
	if !side.IsValid() {
		return nil, domain.ErrInvalidSide
	}
	amount = amount.RoundDown(domain.Scale)
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("trade_service.Quote: %w", err)
	}
	if err = m.CheckTradable(s.clock()); err != nil {
		return nil, err
	}
	var opts []*domain.Option
	if !m.IsBinary() {
		if opts, err = s.store.ListOptions(ctx, marketID); err != nil {
			return nil, fmt.Errorf("trade_service.Quote: options: %w", err)
		}
	}
	if !m.ValidOutcome(outcome, len(opts)) {
		return nil, domain.ErrInvalidOutcome
	}
	mk, err := makerFor(m, opts)
	if err != nil {
		return nil, err
	}

	res := &TradeResult{MarketID: marketID, Outcome: outcome, Side: side}
	var reserves []decimal.Decimal
	if side == domain.SideBuy {
		q, err := mk.QuoteBuy(int(outcome), amount)
		if err != nil {
			return nil, err
		}
		res.Shares, res.Amount, res.Fee, res.AvgPrice = q.SharesOut, q.AmountIn, q.Fee, q.AvgPrice
		reserves = q.Reserves
	} else {
		q, err := mk.QuoteSell(int(outcome), amount)
		if err != nil {
			return nil, err
		}
		res.Shares, res.Amount, res.Fee, res.AvgPrice = q.SharesIn, q.Payout, q.Fee, q.AvgPrice
		reserves = q.Reserves
	}
	// Price the hypothetical state on copies; nothing is persisted.
	mc := *m
	oc := make([]*domain.Option, len(opts))
	for i, o := range opts {
		c := *o
		oc[i] = &c
	}
	if res.Prices, err = applyReserves(&mc, oc, reserves, s.clock()); err != nil {
		return nil, err
	}
	return res, nil
}
