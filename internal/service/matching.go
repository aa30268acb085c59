package service

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Counterparties of a fill.
const (
	CounterpartyOrder = "order"
	CounterpartyAMM   = "amm"
)

// Fill is one execution of an incoming order.
type Fill struct {
	OrderID      uuid.UUID       `json:"order_id"`
	MakerOrderID *uuid.UUID      `json:"maker_order_id,omitempty"` // nil for AMM fills
	Counterparty string          `json:"counterparty"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Value        decimal.Decimal `json:"value"` // currency that changed hands
}

// matcher runs one matching pass for a single incoming order inside the
// caller's transaction. The market row (and options) are already locked.
type matcher struct {
	tx    repository.Tx
	m     *domain.Market
	opts  []*domain.Option
	now   time.Time
	fills []Fill
	// prices is set once the AMM has been traded against.
	prices []decimal.Decimal
}

// match fills in against crossing resting orders in price-then-time
// priority at the maker's price, then offers any remainder to the AMM when
// the pool's quoted price crosses the limit.
func (mt *matcher) match(ctx context.Context, in *domain.Order, withBook bool) error {
	if withBook {
		candidates, err := mt.tx.LockMatchCandidates(ctx, in)
		if err != nil {
			return fmt.Errorf("lock match candidates: %w", err)
		}
		for _, maker := range candidates {
			if !in.Remaining().IsPositive() {
				break
			}
			if !in.Crosses(maker.Price) {
				break
			}
			qty := decimal.Min(in.Remaining(), maker.Remaining())
			if !qty.IsPositive() {
				continue
			}
			buyer, seller := in, maker
			if in.Side == domain.SideSell {
				buyer, seller = maker, in
			}
			value, err := mt.cross(ctx, buyer, seller, maker.Price, qty)
			if err != nil {
				return err
			}
			maker.Fill(qty, mt.now)
			if err = mt.tx.UpdateOrder(ctx, maker); err != nil {
				return fmt.Errorf("update maker order: %w", err)
			}
			in.Fill(qty, mt.now)

			makerID := maker.ID
			mt.fills = append(mt.fills, Fill{
				OrderID:      in.ID,
				MakerOrderID: &makerID,
				Counterparty: CounterpartyOrder,
				Price:        maker.Price,
				Size:         qty,
				Value:        value,
			})
		}
	}

	if in.Remaining().IsPositive() {
		if err := mt.fillFromAMM(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// releasedFor is the buy escrow freed when qty more units of o fill.
func releasedFor(o *domain.Order, qty decimal.Decimal) decimal.Decimal {
	rem := o.Remaining()
	return o.EscrowFor(rem).Sub(o.EscrowFor(rem.Sub(qty)))
}

// cross settles qty units between a buy and a sell order at price. The
// buyer's escrow for qty is spent and any price improvement returns to
// Available; the seller's shares were escrowed at placement.
func (mt *matcher) cross(ctx context.Context, buyer, seller *domain.Order, price, qty decimal.Decimal) (decimal.Decimal, error) {
	released := releasedFor(buyer, qty)
	value := price.Mul(qty).RoundDown(domain.Scale)

	if err := adjustBalance(ctx, mt.tx, buyer.User, mt.now, func(b *domain.Balance) error {
		b.SpendLocked(released)
		b.Credit(released.Sub(value))
		return nil
	}); err != nil {
		return decimal.Zero, err
	}
	if err := addShares(ctx, mt.tx, buyer.User, buyer.MarketID, buyer.Outcome, qty, value, mt.now); err != nil {
		return decimal.Zero, err
	}
	if err := credit(ctx, mt.tx, seller.User, value, mt.now); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// fillFromAMM fills as much of in's remainder as the AMM offers within the
// limit. Limit prices are on the quoted (0,1) scale, so a buy crosses while
// the fee-inclusive price after the fill stays at or below the limit, and a
// sell while the post-fill price net of fee stays at or above it. Both are
// monotone in size, so the largest acceptable size is found by bisection at
// currency precision.
//
// The pool charges its own currency cost, which can exceed price × qty. A
// buy pays from its released escrow first and draws the shortfall from
// Available; sizes the two cannot cover are not acceptable.
func (mt *matcher) fillFromAMM(ctx context.Context, in *domain.Order) error {
	if mt.m.CheckTradable(mt.now) != nil {
		return nil
	}
	mk, err := makerFor(mt.m, mt.opts)
	if err != nil {
		return nil
	}
	outcome := int(in.Outcome)

	var acceptable func(qty decimal.Decimal) bool
	if in.Side == domain.SideBuy {
		bal, err := mt.tx.LockBalance(ctx, in.User)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		available := bal.Available
		acceptable = func(qty decimal.Decimal) bool {
			q, err := mk.QuoteBuyShares(outcome, qty)
			if err != nil || q.AmountIn.GreaterThan(releasedFor(in, qty).Add(available)) {
				return false
			}
			ask, err := amm.AskAfter(mk, q)
			return err == nil && ask.LessThanOrEqual(in.Price)
		}
	} else {
		acceptable = func(qty decimal.Decimal) bool {
			q, err := mk.QuoteSell(outcome, qty)
			if err != nil || !q.Payout.IsPositive() {
				return false
			}
			bid, err := amm.BidAfter(mk, q)
			return err == nil && bid.GreaterThanOrEqual(in.Price)
		}
	}
	qty := largestAcceptable(in.Remaining(), acceptable)
	if !qty.IsPositive() {
		return nil
	}

	var (
		reserves []decimal.Decimal
		value    decimal.Decimal
		price    decimal.Decimal
	)
	if in.Side == domain.SideBuy {
		q, err := mk.QuoteBuyShares(outcome, qty)
		if err != nil {
			return err
		}
		if price, err = amm.AskAfter(mk, q); err != nil {
			return err
		}
		released := releasedFor(in, qty)
		if err = adjustBalance(ctx, mt.tx, in.User, mt.now, func(b *domain.Balance) error {
			b.SpendLocked(released)
			if q.AmountIn.GreaterThan(released) {
				return b.Debit(q.AmountIn.Sub(released))
			}
			b.Credit(released.Sub(q.AmountIn))
			return nil
		}); err != nil {
			return err
		}
		if err = addShares(ctx, mt.tx, in.User, in.MarketID, in.Outcome, qty, q.AmountIn, mt.now); err != nil {
			return err
		}
		mt.m.BuyVolume = mt.m.BuyVolume.Add(q.AmountIn)
		mt.m.FeesCollected = mt.m.FeesCollected.Add(q.Fee)
		reserves, value = q.Reserves, q.AmountIn
	} else {
		q, err := mk.QuoteSell(outcome, qty)
		if err != nil {
			return err
		}
		if price, err = amm.BidAfter(mk, q); err != nil {
			return err
		}
		if err = credit(ctx, mt.tx, in.User, q.Payout, mt.now); err != nil {
			return err
		}
		mt.m.SellVolume = mt.m.SellVolume.Add(q.Payout)
		mt.m.FeesCollected = mt.m.FeesCollected.Add(q.Fee)
		reserves, value = q.Reserves, q.Payout
	}

	if mt.prices, err = applyReserves(mt.m, mt.opts, reserves, mt.now); err != nil {
		return err
	}
	in.Fill(qty, mt.now)
	mt.fills = append(mt.fills, Fill{
		OrderID:      in.ID,
		Counterparty: CounterpartyAMM,
		Price:        price,
		Size:         qty,
		Value:        value,
	})
	return nil
}

// largestAcceptable returns the largest qty in (0, max] at currency
// precision for which ok holds, assuming ok is monotone (true up to some
// size, false after). Returns zero when no size is acceptable.
func largestAcceptable(max decimal.Decimal, ok func(decimal.Decimal) bool) decimal.Decimal {
	if ok(max) {
		return max
	}
	lo, hi := decimal.Zero, max
	two := decimal.NewFromInt(2)
	for i := 0; i < 64; i++ {
		mid := lo.Add(hi).Div(two).RoundDown(domain.Scale)
		if mid.LessThanOrEqual(lo) {
			break
		}
		if ok(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
