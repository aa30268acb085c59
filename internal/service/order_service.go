package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/orderbook"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
)

// PlaceOrderResult is the order after its first matching pass.
type PlaceOrderResult struct {
	Order *domain.Order `json:"order"`
	Fills []Fill        `json:"fills"`
}

// OrderService manages resting limit orders and the order book view.
type OrderService struct {
	base
}

// NewOrderService creates an OrderService.
func NewOrderService(store repository.Store, cfg *config.Config, logger *slog.Logger) *OrderService {
	return &OrderService{base: newBase(store, cfg, logger)}
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceLimitOrder
// ──────────────────────────────────────────────────────────────────────────────

// PlaceLimitOrder escrows the order's resource (price × amount of funds for a
// buy, amount shares for a sell), persists it and runs a matching pass, all
// in one transaction.
func (s *OrderService) PlaceLimitOrder(ctx context.Context, req domain.PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Amount.LessThan(s.decimalCfg(s.cfg.Engine.MinTradeAmount)) {
		return nil, domain.ErrInvalidAmount
	}
	user := domain.NormalizeAddress(req.User)
	now := s.clock()

	o := &domain.Order{
		ID:        uuid.New(),
		MarketID:  req.MarketID,
		User:      user,
		Outcome:   req.Outcome,
		Side:      req.Side,
		Price:     req.Price,
		Amount:    req.Amount,
		Status:    domain.OrderOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var mt *matcher
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, opts, err := lockTradable(ctx, tx, req.MarketID, req.Outcome, now)
		if err != nil {
			return err
		}

		if o.Side == domain.SideBuy {
			escrow := o.EscrowFor(o.Amount)
			if err = adjustBalance(ctx, tx, user, now, func(b *domain.Balance) error {
				return b.Lock(escrow)
			}); err != nil {
				return err
			}
		} else if err = escrowShares(ctx, tx, o, now); err != nil {
			return err
		}

		if err = tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		mt = &matcher{tx: tx, m: m, opts: opts, now: now}
		if err = mt.match(ctx, o, true); err != nil {
			return err
		}
		if err = tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if mt.prices != nil {
			return saveMarket(ctx, tx, m, opts, now)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("order_service.PlaceLimitOrder: %w", err)
	}

	s.metrics.Order("placed")
	s.recordFills(mt.fills)
	s.bookChanged(o.MarketID, mt.prices, "order_placed")
	return &PlaceOrderResult{Order: o, Fills: mt.fills}, nil
}

// escrowShares moves a sell order's shares out of the position. The row is
// kept at zero shares so its cost basis survives a later cancellation.
func escrowShares(ctx context.Context, tx repository.Tx, o *domain.Order, now time.Time) error {
	p, err := tx.LockPosition(ctx, o.User, o.MarketID, o.Outcome)
	if domain.IsNotFound(err) {
		return domain.ErrInsufficientShares
	}
	if err != nil {
		return fmt.Errorf("lock position: %w", err)
	}
	if err = p.Remove(o.Amount); err != nil {
		return err
	}
	p.UpdatedAt = now
	if err = tx.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (s *OrderService) recordFills(fills []Fill) {
	for _, f := range fills {
		s.metrics.Fill(f.Counterparty)
		s.metrics.Trade(f.Counterparty, "fill", f.Value.InexactFloat64())
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// CancelOrder
// ──────────────────────────────────────────────────────────────────────────────

// CancelOrder cancels a resting order owned by user and refunds exactly the
// unfilled escrow.
func (s *OrderService) CancelOrder(ctx context.Context, user string, id uuid.UUID) (*domain.Order, error) {
	user = domain.NormalizeAddress(user)
	now := s.clock()

	var o *domain.Order
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if o, err = tx.LockOrder(ctx, id); err != nil {
			return err
		}
		if o.User != user {
			return domain.ErrNotOrderOwner
		}
		if !o.Status.IsResting() {
			return domain.ErrOrderNotOpen
		}
		_, err = releaseOrder(ctx, tx, o, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("order_service.CancelOrder: %w", err)
	}

	s.metrics.Order("cancelled")
	s.bookChanged(o.MarketID, nil, "order_cancelled")
	return o, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// GetOrderBook
// ──────────────────────────────────────────────────────────────────────────────

// GetOrderBook merges the resting orders of one outcome with the AMM's
// synthetic depth. Depth is only offered while the market trades.
func (s *OrderService) GetOrderBook(ctx context.Context, marketID uuid.UUID, outcome domain.Outcome) (*orderbook.Snapshot, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("order_service.GetOrderBook: %w", err)
	}
	var opts []*domain.Option
	if !m.IsBinary() {
		if opts, err = s.store.ListOptions(ctx, marketID); err != nil {
			return nil, fmt.Errorf("order_service.GetOrderBook: options: %w", err)
		}
	}
	if !m.ValidOutcome(outcome, len(opts)) {
		return nil, domain.ErrInvalidOutcome
	}
	orders, err := s.store.ListRestingOrders(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("order_service.GetOrderBook: orders: %w", err)
	}

	book := orderbook.New(outcome)
	for _, o := range orders {
		if o.Outcome == outcome {
			book.AddOrder(o)
		}
	}
	if m.CheckTradable(s.clock()) == nil {
		if mk, err := makerFor(m, opts); err == nil {
			book.AddDepth(amm.SyntheticDepth(mk, int(outcome), amm.DefaultDepthSteps))
		}
	}
	snap := book.Snapshot(s.cfg.Engine.OrderBookDepth)
	return &snap, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Rematch sweep: called by the Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// RematchMarket offers every resting order of a market to the AMM again, in
// time priority, so orders the pool has moved through get filled.
func (s *OrderService) RematchMarket(ctx context.Context, marketID uuid.UUID) (int, error) {
	now := s.clock()
	var mt *matcher
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.CheckTradable(now) != nil {
			return nil
		}
		var opts []*domain.Option
		if !m.IsBinary() {
			if opts, err = tx.LockOptions(ctx, marketID); err != nil {
				return err
			}
		}
		orders, err := tx.LockRestingOrders(ctx, marketID)
		if err != nil {
			return err
		}

		mt = &matcher{tx: tx, m: m, opts: opts, now: now}
		for _, o := range orders {
			before := len(mt.fills)
			if err = mt.match(ctx, o, false); err != nil {
				return err
			}
			if len(mt.fills) > before {
				if err = tx.UpdateOrder(ctx, o); err != nil {
					return fmt.Errorf("update order: %w", err)
				}
			}
		}
		if mt.prices != nil {
			return saveMarket(ctx, tx, m, opts, now)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("order_service.RematchMarket %s: %w", marketID, err)
	}
	if mt == nil || len(mt.fills) == 0 {
		return 0, nil
	}
	s.recordFills(mt.fills)
	s.bookChanged(marketID, mt.prices, "rematch")
	return len(mt.fills), nil
}

// SweepRestingOrders rematches every active market with resting orders.
func (s *OrderService) SweepRestingOrders(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListMarketIDs(ctx, repository.SweepRestingOrders, s.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("order_service.SweepRestingOrders: list: %w", err)
	}
	total := 0
	for _, id := range ids {
		n, err := s.RematchMarket(ctx, id)
		if err != nil {
			s.logger.Error("rematch market", "market", id, "err", err)
			continue
		}
		total += n
	}
	return total, nil
}
