package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/notify"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Escrow release
// ──────────────────────────────────────────────────────────────────────────────

// releaseOrder cancels o and returns its unfilled escrow: funds to Available
// for a buy, shares to the position for a sell. Returns the amount released.
func releaseOrder(ctx context.Context, tx repository.Tx, o *domain.Order, now time.Time) (decimal.Decimal, error) {
	rem := o.Remaining()
	escrow := o.EscrowFor(rem)

	if o.Side == domain.SideBuy {
		if err := adjustBalance(ctx, tx, o.User, now, func(b *domain.Balance) error {
			b.Unlock(escrow)
			return nil
		}); err != nil {
			return decimal.Zero, err
		}
	} else if err := returnShares(ctx, tx, o.User, o.MarketID, o.Outcome, rem, now); err != nil {
		return decimal.Zero, err
	}

	o.Status = domain.OrderCancelled
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return decimal.Zero, fmt.Errorf("update order: %w", err)
	}
	return escrow, nil
}

// returnShares puts escrowed shares back without touching the cost basis.
func returnShares(ctx context.Context, tx repository.Tx, user string, marketID uuid.UUID, outcome domain.Outcome, shares decimal.Decimal, now time.Time) error {
	p, err := tx.LockPosition(ctx, user, marketID, outcome)
	if errors.Is(err, domain.ErrPositionNotFound) {
		p = &domain.Position{User: user, MarketID: marketID, Outcome: outcome}
	} else if err != nil {
		return fmt.Errorf("lock position: %w", err)
	}
	p.Shares = p.Shares.Add(shares)
	p.UpdatedAt = now
	if err = tx.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// cancelOpenOrders cancels every resting order of a market and writes one
// cancel_open_order ledger entry per order.
func cancelOpenOrders(ctx context.Context, tx repository.Tx, marketID uuid.UUID, now time.Time) (int, error) {
	orders, err := tx.LockRestingOrders(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("lock resting orders: %w", err)
	}
	for _, o := range orders {
		released, err := releaseOrder(ctx, tx, o, now)
		if err != nil {
			return 0, err
		}
		details := fmt.Sprintf("order %s %s %s @ %s", o.ID, o.Side, o.Remaining(), o.Price)
		if err = appendLedger(ctx, tx, marketID, o.User, domain.ActionCancelOpenOrder, released, details, now); err != nil {
			return 0, err
		}
	}
	return len(orders), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolution & settlement (inside the caller's transaction)
// ──────────────────────────────────────────────────────────────────────────────

// resolveLocked locks in outcome for m, which the caller has locked. Open
// orders are cancelled first so escrowed shares count toward the winning
// total, then the payout snapshot is taken and the first settlement batch
// runs. m is saved before returning.
func resolveLocked(ctx context.Context, tx repository.Tx, m *domain.Market, outcome domain.Outcome, batch int, now time.Time) (int, error) {
	if m.Status.IsTerminal() {
		return 0, domain.ErrMarketAlreadyResolved
	}
	if _, err := cancelOpenOrders(ctx, tx, m.ID, now); err != nil {
		return 0, err
	}

	positions, err := tx.LockMarketPositions(ctx, m.ID, 0)
	if err != nil {
		return 0, fmt.Errorf("lock positions: %w", err)
	}
	winning := decimal.Zero
	for _, p := range positions {
		if p.Outcome == outcome {
			winning = winning.Add(p.Shares)
		}
	}

	m.WinningOutcome = &outcome
	m.Status = domain.StatusResolved
	m.ResolvedAt = &now
	m.SettleNetDeposits = m.NetDeposits()
	m.SettleWinningShares = winning

	n, err := settleBatch(ctx, tx, m, batch, now)
	if err != nil {
		return 0, err
	}
	m.UpdatedAt = now
	if err = tx.UpdateMarket(ctx, m); err != nil {
		return 0, fmt.Errorf("update market: %w", err)
	}
	return n, nil
}

// settleBatch pays at most limit positions of resolved market m from its
// snapshot. Winners are credited shares / SettleWinningShares of
// SettleNetDeposits (rounded down) with a settle_winner entry; losers get a
// zero settle_loser entry. Settled positions are deleted. When the batch
// comes back short, SettledAt is set. The caller saves m.
func settleBatch(ctx context.Context, tx repository.Tx, m *domain.Market, limit int, now time.Time) (int, error) {
	positions, err := tx.LockMarketPositions(ctx, m.ID, limit)
	if err != nil {
		return 0, fmt.Errorf("lock positions: %w", err)
	}
	winner := *m.WinningOutcome

	for _, p := range positions {
		if p.Shares.IsPositive() {
			action, amount := domain.ActionSettleLoser, decimal.Zero
			if p.Outcome == winner {
				action = domain.ActionSettleWinner
				amount = domain.ProRataPayout(p.Shares, m.SettleWinningShares, m.SettleNetDeposits)
				if err = credit(ctx, tx, p.User, amount, now); err != nil {
					return 0, err
				}
			}
			details := fmt.Sprintf("%s shares of %s", p.Shares, p.Outcome)
			if err = appendLedger(ctx, tx, m.ID, p.User, action, amount, details, now); err != nil {
				return 0, err
			}
		}
		if err = tx.DeletePosition(ctx, p.User, m.ID, p.Outcome); err != nil {
			return 0, fmt.Errorf("delete position: %w", err)
		}
	}

	if limit <= 0 || len(positions) < limit {
		m.SettledAt = &now
	}
	return len(positions), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementService: keeper for markets resolved with positions left over
// ──────────────────────────────────────────────────────────────────────────────

// SettlementService finishes batched settlement of resolved markets.
type SettlementService struct {
	base
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(store repository.Store, cfg *config.Config, logger *slog.Logger) *SettlementService {
	return &SettlementService{base: newBase(store, cfg, logger)}
}

// SettleMarket runs one settlement batch for a resolved market. Returns the
// number of positions settled and whether the market is fully settled.
func (s *SettlementService) SettleMarket(ctx context.Context, marketID uuid.UUID) (int, bool, error) {
	now := s.clock()
	var (
		n    int
		done bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return fmt.Errorf("lock market: %w", err)
		}
		if m.Status != domain.StatusResolved || m.WinningOutcome == nil {
			return domain.ErrMarketNotResolved
		}
		if m.SettledAt != nil {
			done = true
			return nil
		}
		if n, err = settleBatch(ctx, tx, m, s.cfg.Engine.SettlementBatchSize, now); err != nil {
			return err
		}
		done = m.SettledAt != nil
		m.UpdatedAt = now
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return 0, false, fmt.Errorf("settlement_service.SettleMarket %s: %w", marketID, err)
	}
	s.metrics.Settled(n)
	if done && n > 0 {
		s.logger.Info("market settled", "market", marketID, "last_batch", n)
	}
	return n, done, nil
}

// SweepUnsettled drives every resolved-but-unsettled market to completion,
// one transaction per batch. A single failing market does NOT abort the others.
func (s *SettlementService) SweepUnsettled(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListMarketIDs(ctx, repository.SweepUnsettled, s.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("settlement_service.SweepUnsettled: list: %w", err)
	}
	total := 0
	for _, id := range ids {
		for {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			n, done, err := s.SettleMarket(ctx, id)
			if err != nil {
				s.logger.Error("settle market", "market", id, "err", err)
				break
			}
			total += n
			if done {
				break
			}
		}
	}
	return total, nil
}

// marketResolved publishes the resolution of m after commit.
func (b *base) marketResolved(m *domain.Market, path string) {
	b.metrics.Resolved(path)
	ev := domain.MarketResolvedEvent{
		Type:        domain.EventMarketResolved,
		MarketID:    m.ID,
		Outcome:     *m.WinningOutcome,
		Status:      m.Status,
		NetDeposits: m.SettleNetDeposits,
		Timestamp:   b.clock(),
	}
	b.publishAsync(string(ev.Type), func(ctx context.Context, p notify.Publisher) error {
		return p.MarketResolved(ctx, ev)
	})
	b.logger.Info("market resolved",
		"market", m.ID, "outcome", ev.Outcome, "path", path,
		"net_deposits", m.SettleNetDeposits, "winning_shares", m.SettleWinningShares)
}
