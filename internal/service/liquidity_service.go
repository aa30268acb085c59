package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/shopspring/decimal"
)

// LiquidityService mints and burns LP shares on binary pools. Multi-outcome
// pools are parameterised by b at creation and refuse both operations.
//
// Both operations need an active, unexpired market. LP capital is forfeited
// at resolution: the reserves are not part of SettleNetDeposits and the LP
// shares cannot be burned afterwards. Only a cancelled market returns it,
// at pool value.
type LiquidityService struct {
	base
}

// NewLiquidityService creates a LiquidityService.
func NewLiquidityService(store repository.Store, cfg *config.Config, logger *slog.Logger) *LiquidityService {
	return &LiquidityService{base: newBase(store, cfg, logger)}
}

// lockPool locks an active, unexpired binary market.
func (s *LiquidityService) lockPool(ctx context.Context, tx repository.Tx, req domain.LiquidityRequest) (*domain.Market, error) {
	m, err := tx.LockMarket(ctx, req.MarketID)
	if err != nil {
		return nil, fmt.Errorf("lock market: %w", err)
	}
	if !m.IsBinary() {
		return nil, domain.ErrMultiOutcomeLiquidity
	}
	if err = m.CheckTradable(s.clock()); err != nil {
		return nil, err
	}
	return m, nil
}

// Add deposits req.Amount into the pool at the current price ratio.
func (s *LiquidityService) Add(ctx context.Context, req domain.LiquidityRequest) (*amm.LiquidityChange, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	user := domain.NormalizeAddress(req.User)
	amount := req.Amount.RoundDown(domain.Scale)
	now := s.clock()

	var change amm.LiquidityChange
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, err := s.lockPool(ctx, tx, req)
		if err != nil {
			return err
		}
		if change, err = amm.AddLiquidity(m.YesReserve, m.NoReserve, m.LPSharesTotal, amount); err != nil {
			return err
		}
		if err = adjustBalance(ctx, tx, user, now, func(b *domain.Balance) error {
			return b.Debit(amount)
		}); err != nil {
			return err
		}

		lp, err := tx.LockLPShare(ctx, user, m.ID)
		if errors.Is(err, domain.ErrLPShareNotFound) {
			lp = &domain.LPShare{User: user, MarketID: m.ID}
		} else if err != nil {
			return fmt.Errorf("lock lp share: %w", err)
		}
		lp.Shares = lp.Shares.Add(change.LPShares)
		lp.UpdatedAt = now
		if err = tx.SaveLPShare(ctx, lp); err != nil {
			return fmt.Errorf("save lp share: %w", err)
		}

		m.YesReserve, m.NoReserve, m.LPSharesTotal = change.Yes, change.No, change.LPTotal
		m.TotalLiquidity = m.TotalLiquidity.Add(amount)
		return saveMarket(ctx, tx, m, nil, now)
	})
	if err != nil {
		return nil, fmt.Errorf("liquidity_service.Add: %w", err)
	}

	s.logger.Info("liquidity added", "market", req.MarketID, "user", user, "amount", amount, "lp_minted", change.LPShares)
	s.bookChanged(req.MarketID, nil, "liquidity_add")
	return &change, nil
}

// Remove burns req.Amount LP shares and pays their share of the pool at
// current prices. Emptying the pool of an active market is refused.
func (s *LiquidityService) Remove(ctx context.Context, req domain.LiquidityRequest) (*amm.LiquidityChange, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	user := domain.NormalizeAddress(req.User)
	shares := req.Amount.RoundDown(domain.Scale)
	now := s.clock()

	var change amm.LiquidityChange
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, err := s.lockPool(ctx, tx, req)
		if err != nil {
			return err
		}
		lp, err := tx.LockLPShare(ctx, user, m.ID)
		if errors.Is(err, domain.ErrLPShareNotFound) {
			return domain.ErrInsufficientShares
		}
		if err != nil {
			return fmt.Errorf("lock lp share: %w", err)
		}
		if lp.Shares.LessThan(shares) {
			return domain.ErrInsufficientShares
		}
		if change, err = amm.RemoveLiquidity(m.YesReserve, m.NoReserve, m.LPSharesTotal, shares); err != nil {
			return err
		}

		lp.Shares = lp.Shares.Sub(shares)
		lp.UpdatedAt = now
		if lp.Shares.IsZero() {
			err = tx.DeleteLPShare(ctx, user, m.ID)
		} else {
			err = tx.SaveLPShare(ctx, lp)
		}
		if err != nil {
			return fmt.Errorf("save lp share: %w", err)
		}
		if err = credit(ctx, tx, user, change.Value, now); err != nil {
			return err
		}

		m.YesReserve, m.NoReserve, m.LPSharesTotal = change.Yes, change.No, change.LPTotal
		m.TotalLiquidity = decimal.Max(m.TotalLiquidity.Sub(change.Value), decimal.Zero)
		return saveMarket(ctx, tx, m, nil, now)
	})
	if err != nil {
		return nil, fmt.Errorf("liquidity_service.Remove: %w", err)
	}

	s.logger.Info("liquidity removed", "market", req.MarketID, "user", user, "lp_burned", shares, "paid", change.Value)
	s.bookChanged(req.MarketID, nil, "liquidity_remove")
	return &change, nil
}
