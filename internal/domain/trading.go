package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Balance
// ──────────────────────────────────────────────────────────────────────────────

// Balance holds a user's settlement-currency funds. Locked is the sum of
// price × remaining over the user's open buy orders.
type Balance struct {
	User      string          `json:"user"       db:"user_address"`
	Available decimal.Decimal `json:"available"  db:"available"`
	Locked    decimal.Decimal `json:"locked"     db:"locked"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Debit moves amount out of Available.
func (b *Balance) Debit(amount decimal.Decimal) error {
	if b.Available.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.Available = b.Available.Sub(amount)
	return nil
}

// Credit adds amount to Available.
func (b *Balance) Credit(amount decimal.Decimal) {
	b.Available = b.Available.Add(amount)
}

// Lock moves amount from Available into Locked.
func (b *Balance) Lock(amount decimal.Decimal) error {
	if err := b.Debit(amount); err != nil {
		return err
	}
	b.Locked = b.Locked.Add(amount)
	return nil
}

// Unlock returns amount from Locked to Available.
func (b *Balance) Unlock(amount decimal.Decimal) {
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
}

// SpendLocked removes amount from Locked without crediting Available
// (the funds left with a fill).
func (b *Balance) SpendLocked(amount decimal.Decimal) {
	b.Locked = b.Locked.Sub(amount)
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is a user's share holding in one outcome of one market.
type Position struct {
	User      string          `json:"user"       db:"user_address"`
	MarketID  uuid.UUID       `json:"market_id"  db:"market_id"`
	Outcome   Outcome         `json:"outcome"    db:"outcome"`
	Shares    decimal.Decimal `json:"shares"     db:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost"   db:"avg_cost"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CostBasis is what the user paid for the shares still held.
func (p *Position) CostBasis() decimal.Decimal {
	return p.Shares.Mul(p.AvgCost).RoundDown(Scale)
}

// Add records a purchase of shares for cost and re-averages the basis.
func (p *Position) Add(shares, cost decimal.Decimal) {
	total := p.Shares.Add(shares)
	if total.IsZero() {
		return
	}
	p.AvgCost = p.CostBasis().Add(cost).DivRound(total, Scale+4)
	p.Shares = total
}

// Remove takes shares out of the position. The average cost is unchanged.
func (p *Position) Remove(shares decimal.Decimal) error {
	if p.Shares.LessThan(shares) {
		return ErrInsufficientShares
	}
	p.Shares = p.Shares.Sub(shares)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Order
// ──────────────────────────────────────────────────────────────────────────────

// Side is the direction of a limit order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IsValid returns true for buy or sell.
func (s Side) IsValid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the side an order matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of a resting order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// IsResting reports whether the order can still be matched or cancelled.
func (s OrderStatus) IsResting() bool { return s == OrderOpen || s == OrderPartial }

// Order is a resting limit order. A buy escrows Price × remaining funds in
// the owner's Locked balance; a sell escrows the remaining shares.
type Order struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	MarketID  uuid.UUID       `json:"market_id"  db:"market_id"`
	User      string          `json:"user"       db:"user_address"`
	Outcome   Outcome         `json:"outcome"    db:"outcome"`
	Side      Side            `json:"side"       db:"side"`
	Price     decimal.Decimal `json:"price"      db:"price"`
	Amount    decimal.Decimal `json:"amount"     db:"amount"`
	Filled    decimal.Decimal `json:"filled"     db:"filled"`
	Status    OrderStatus     `json:"status"     db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// EscrowFor returns the locked resource backing qty units of this order:
// funds for buys, shares for sells.
func (o *Order) EscrowFor(qty decimal.Decimal) decimal.Decimal {
	if o.Side == SideBuy {
		return o.Price.Mul(qty).RoundUp(Scale)
	}
	return qty
}

// Fill records qty as filled and updates the status.
func (o *Order) Fill(qty decimal.Decimal, now time.Time) {
	o.Filled = o.Filled.Add(qty)
	if o.Filled.GreaterThanOrEqual(o.Amount) {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartial
	}
	o.UpdatedAt = now
}

// Crosses reports whether this order trades at price p: a buy accepts any
// price at or below its limit, a sell any price at or above.
func (o *Order) Crosses(p decimal.Decimal) bool {
	if o.Side == SideBuy {
		return p.LessThanOrEqual(o.Price)
	}
	return p.GreaterThanOrEqual(o.Price)
}

// ──────────────────────────────────────────────────────────────────────────────
// LPShare
// ──────────────────────────────────────────────────────────────────────────────

// LPShare is a user's pool-ownership stake in a binary market.
type LPShare struct {
	User      string          `json:"user"       db:"user_address"`
	MarketID  uuid.UUID       `json:"market_id"  db:"market_id"`
	Shares    decimal.Decimal `json:"shares"     db:"shares"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Deposit
// ──────────────────────────────────────────────────────────────────────────────

// Deposit is an on-chain transfer credited to a user's balance. TxHash is
// unique, so a transaction is credited at most once.
type Deposit struct {
	TxHash    string          `json:"tx_hash"    db:"tx_hash"`
	User      string          `json:"user"       db:"user_address"`
	Amount    decimal.Decimal `json:"amount"     db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
