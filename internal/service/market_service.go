package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketService
// ──────────────────────────────────────────────────────────────────────────────

// MarketService handles market lifecycle: creation, querying, the end-of-market
// transition and cancellation.
type MarketService struct {
	base
}

// NewMarketService creates a MarketService.
func NewMarketService(store repository.Store, cfg *config.Config, logger *slog.Logger) *MarketService {
	return &MarketService{base: newBase(store, cfg, logger)}
}

// ──────────────────────────────────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────────────────────────────────

// Create debits the creator's liquidity and opens a market. A binary market
// seeds R_yes = R_no = liquidity and mints the creator that many LP shares; a
// multi-outcome market fixes b = liquidity / ln(N) and starts every q_i at 0.
// A zero fee rate takes the configured default.
func (s *MarketService) Create(ctx context.Context, req domain.CreateMarketRequest) (*domain.MarketView, error) {
	now := s.clock()
	if err := req.Validate(now); err != nil {
		return nil, err
	}
	creator := domain.NormalizeAddress(req.Caller.Address)
	fee := req.FeeRate
	if fee.IsZero() {
		fee = s.decimalCfg(s.cfg.Engine.DefaultFeeRate)
	}
	liquidity := req.Liquidity.RoundDown(domain.Scale)

	m := &domain.Market{
		ID:               uuid.New(),
		Kind:             req.Kind,
		Status:           domain.StatusActive,
		Creator:          creator,
		Question:         req.Question,
		EndTime:          req.EndTime.UTC(),
		FeeRate:          fee,
		TotalLiquidity:   liquidity,
		OracleSymbol:     req.OracleSymbol,
		OracleTarget:     req.OracleTarget,
		OracleComparator: req.OracleComparator,
		ContractAddress:  domain.NormalizeAddress(req.ContractAddress),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var opts []*domain.Option
	if m.IsBinary() {
		seed := amm.SeedPool(liquidity)
		m.YesReserve, m.NoReserve, m.LPSharesTotal = seed.Yes, seed.No, seed.LPTotal
	} else {
		m.LiquidityParam = amm.LiquidityParam(liquidity, len(req.Options))
		q := make([]decimal.Decimal, len(req.Options))
		for i := range q {
			q[i] = decimal.Zero
		}
		mk, err := amm.NewLMSR(q, m.LiquidityParam, fee)
		if err != nil {
			return nil, fmt.Errorf("market_service.Create: lmsr: %w", err)
		}
		prices, _ := mk.Prices()
		for i, label := range req.Options {
			opts = append(opts, &domain.Option{
				ID:        uuid.New(),
				MarketID:  m.ID,
				Index:     i,
				Label:     label,
				Reserve:   decimal.Zero,
				Price:     prices[i],
				UpdatedAt: now,
			})
		}
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := adjustBalance(ctx, tx, creator, now, func(b *domain.Balance) error {
			return b.Debit(liquidity)
		}); err != nil {
			return err
		}
		if err := tx.InsertMarket(ctx, m); err != nil {
			return fmt.Errorf("insert market: %w", err)
		}
		for _, o := range opts {
			if err := tx.InsertOption(ctx, o); err != nil {
				return fmt.Errorf("insert option: %w", err)
			}
		}
		if m.IsBinary() {
			lp := &domain.LPShare{User: creator, MarketID: m.ID, Shares: m.LPSharesTotal, UpdatedAt: now}
			if err := tx.SaveLPShare(ctx, lp); err != nil {
				return fmt.Errorf("save lp share: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("market_service.Create: %w", err)
	}

	s.logger.Info("market created", "market", m.ID, "kind", m.Kind, "creator", creator, "liquidity", liquidity)
	return view(m, opts), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// Get returns a market with its current prices.
func (s *MarketService) Get(ctx context.Context, id uuid.UUID) (*domain.MarketView, error) {
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service.Get: %w", err)
	}
	var opts []*domain.Option
	if !m.IsBinary() {
		if opts, err = s.store.ListOptions(ctx, id); err != nil {
			return nil, fmt.Errorf("market_service.Get: options: %w", err)
		}
	}
	return view(m, opts), nil
}

// List returns markets matching f, newest first.
func (s *MarketService) List(ctx context.Context, f repository.MarketFilter) ([]*domain.MarketView, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	markets, err := s.store.ListMarkets(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market_service.List: %w", err)
	}
	out := make([]*domain.MarketView, 0, len(markets))
	for _, m := range markets {
		var opts []*domain.Option
		if !m.IsBinary() {
			if opts, err = s.store.ListOptions(ctx, m.ID); err != nil {
				return nil, fmt.Errorf("market_service.List: options: %w", err)
			}
		}
		out = append(out, view(m, opts))
	}
	return out, nil
}

// CountByStatus tallies every market by lifecycle status.
func (s *MarketService) CountByStatus(ctx context.Context) (map[domain.MarketStatus]int, error) {
	const pageSize = 500
	counts := map[domain.MarketStatus]int{
		domain.StatusActive:            0,
		domain.StatusPendingResolution: 0,
		domain.StatusResolved:          0,
		domain.StatusCancelled:         0,
	}
	for offset := 0; ; offset += pageSize {
		markets, err := s.store.ListMarkets(ctx, repository.MarketFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("market_service.CountByStatus: %w", err)
		}
		for _, m := range markets {
			counts[m.Status]++
		}
		if len(markets) < pageSize {
			return counts, nil
		}
	}
}

// view attaches prices. A pool that cannot be priced (cancelled, drained)
// is returned without prices.
func view(m *domain.Market, opts []*domain.Option) *domain.MarketView {
	v := &domain.MarketView{Market: m, Options: opts}
	if mk, err := makerFor(m, opts); err == nil {
		v.Prices, _ = mk.Prices()
	}
	return v
}

// ──────────────────────────────────────────────────────────────────────────────
// CloseEndedMarkets: called by the Scheduler every tick
// ──────────────────────────────────────────────────────────────────────────────

// CloseEndedMarkets moves active markets whose end time has passed to
// pending_resolution. A single failing market does NOT abort the others.
func (s *MarketService) CloseEndedMarkets(ctx context.Context, limit int) (int, error) {
	now := s.clock()
	ids, err := s.store.ListMarketIDs(ctx, repository.SweepEnded, now, limit)
	if err != nil {
		return 0, fmt.Errorf("market_service.CloseEndedMarkets: list: %w", err)
	}

	closed := 0
	for _, id := range ids {
		err := s.store.WithTx(ctx, func(tx repository.Tx) error {
			m, err := tx.LockMarket(ctx, id)
			if err != nil {
				return err
			}
			if !m.IsActive() || !m.HasEnded(now) {
				return nil
			}
			m.Status = domain.StatusPendingResolution
			m.UpdatedAt = now
			closed++
			return tx.UpdateMarket(ctx, m)
		})
		if err != nil {
			s.logger.Error("close ended market", "market", id, "err", err)
		}
	}
	return closed, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────────────────────────────────

// Cancel voids a market (admin only). Resting orders are cancelled and their
// escrow returned, every position is refunded at cost basis, LP holders get
// their share of the pool at current prices and a multi-outcome creator gets
// the subsidy back. Any active proposal is closed without an outcome.
func (s *MarketService) Cancel(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	if !caller.Admin {
		return domain.ErrAdminOnly
	}
	now := s.clock()
	var refunded decimal.Decimal

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, id)
		if err != nil {
			return fmt.Errorf("lock market: %w", err)
		}
		if m.Status.IsTerminal() {
			return domain.ErrMarketAlreadyResolved
		}

		if p, err := tx.LockActiveProposal(ctx, id); err == nil {
			p.Status = domain.ProposalFinalized
			p.FinalizedAt = &now
			if err = tx.UpdateProposal(ctx, p); err != nil {
				return fmt.Errorf("close proposal: %w", err)
			}
		} else if !domain.IsNotFound(err) {
			return fmt.Errorf("lock proposal: %w", err)
		}

		if _, err = cancelOpenOrders(ctx, tx, id, now); err != nil {
			return err
		}

		positions, err := tx.LockMarketPositions(ctx, id, 0)
		if err != nil {
			return fmt.Errorf("lock positions: %w", err)
		}
		for _, p := range positions {
			amount := p.CostBasis()
			if err = credit(ctx, tx, p.User, amount, now); err != nil {
				return err
			}
			details := fmt.Sprintf("position %s %s shares", p.Outcome, p.Shares)
			if err = appendLedger(ctx, tx, id, p.User, domain.ActionRefund, amount, details, now); err != nil {
				return err
			}
			if err = tx.DeletePosition(ctx, p.User, id, p.Outcome); err != nil {
				return fmt.Errorf("delete position: %w", err)
			}
			refunded = refunded.Add(amount)
		}

		if m.IsBinary() {
			shares, err := tx.LockMarketLPShares(ctx, id)
			if err != nil {
				return fmt.Errorf("lock lp shares: %w", err)
			}
			value := amm.PoolValue(m.YesReserve, m.NoReserve)
			for _, lp := range shares {
				amount := domain.ProRataPayout(lp.Shares, m.LPSharesTotal, value)
				if err = credit(ctx, tx, lp.User, amount, now); err != nil {
					return err
				}
				details := fmt.Sprintf("liquidity %s lp shares", lp.Shares)
				if err = appendLedger(ctx, tx, id, lp.User, domain.ActionRefund, amount, details, now); err != nil {
					return err
				}
				if err = tx.DeleteLPShare(ctx, lp.User, id); err != nil {
					return fmt.Errorf("delete lp share: %w", err)
				}
				refunded = refunded.Add(amount)
			}
			m.LPSharesTotal = decimal.Zero
		} else {
			if err = credit(ctx, tx, m.Creator, m.TotalLiquidity, now); err != nil {
				return err
			}
			if err = appendLedger(ctx, tx, id, m.Creator, domain.ActionRefund, m.TotalLiquidity, "liquidity subsidy", now); err != nil {
				return err
			}
			refunded = refunded.Add(m.TotalLiquidity)
		}

		m.Status = domain.StatusCancelled
		m.ResolvedAt = &now
		m.SettledAt = &now
		m.UpdatedAt = now
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("market_service.Cancel: %w", err)
	}

	s.logger.Info("market cancelled", "market", id, "by", caller.Address, "refunded", refunded)
	s.bookChanged(id, nil, "cancelled")
	return nil
}
