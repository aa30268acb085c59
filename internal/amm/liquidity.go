package amm

import (
	"github.com/evetabi/predex/internal/domain"
	"github.com/shopspring/decimal"
)

// PoolValue marks a binary pool to its current prices:
//
//	V = R_yes·p_yes + R_no·p_no = 2·R_yes·R_no / (R_yes + R_no)
func PoolValue(yes, no decimal.Decimal) decimal.Decimal {
	sum := yes.Add(no)
	if !sum.IsPositive() {
		return decimal.Zero
	}
	return divDown(yes.Mul(no).Mul(decimal.NewFromInt(2)), sum)
}

// LiquidityChange is the pool state after an add or remove.
type LiquidityChange struct {
	Yes      decimal.Decimal `json:"yes_reserve"`
	No       decimal.Decimal `json:"no_reserve"`
	LPShares decimal.Decimal `json:"lp_shares"` // minted or burned
	LPTotal  decimal.Decimal `json:"lp_total"`  // outstanding after the change
	Value    decimal.Decimal `json:"value"`     // currency in (add) or out (remove)
}

// SeedPool returns the initial state for a pool funded with amount: both
// reserves equal amount and the creator holds amount LP shares.
func SeedPool(amount decimal.Decimal) LiquidityChange {
	return LiquidityChange{Yes: amount, No: amount, LPShares: amount, LPTotal: amount, Value: amount}
}

// AddLiquidity scales both reserves by (1 + amount/V), preserving the price
// ratio, and mints lpTotal × amount / V shares.
func AddLiquidity(yes, no, lpTotal, amount decimal.Decimal) (LiquidityChange, error) {
	if !amount.IsPositive() {
		return LiquidityChange{}, domain.ErrInvalidAmount
	}
	v := PoolValue(yes, no)
	if !v.IsPositive() || !lpTotal.IsPositive() {
		return LiquidityChange{}, domain.ErrInsufficientLiquidity
	}
	minted := divDown(lpTotal.Mul(amount), v)
	if !minted.IsPositive() {
		return LiquidityChange{}, domain.ErrInvalidAmount
	}
	return LiquidityChange{
		Yes:      yes.Add(divDown(yes.Mul(amount), v)),
		No:       no.Add(divDown(no.Mul(amount), v)),
		LPShares: minted,
		LPTotal:  lpTotal.Add(minted),
		Value:    amount,
	}, nil
}

// RemoveLiquidity burns shares and shrinks both reserves by shares/lpTotal.
// The provider receives that fraction of V at current prices, so LPs carry
// the pool's price risk. Emptying the pool is refused.
func RemoveLiquidity(yes, no, lpTotal, shares decimal.Decimal) (LiquidityChange, error) {
	if !shares.IsPositive() {
		return LiquidityChange{}, domain.ErrInvalidAmount
	}
	if shares.GreaterThan(lpTotal) {
		return LiquidityChange{}, domain.ErrInsufficientShares
	}
	if shares.Equal(lpTotal) {
		return LiquidityChange{}, domain.ErrPoolDrained
	}
	v := PoolValue(yes, no)
	payout := divDown(v.Mul(shares), lpTotal)
	newYes := yes.Sub(divDown(yes.Mul(shares), lpTotal))
	newNo := no.Sub(divDown(no.Mul(shares), lpTotal))
	if !newYes.IsPositive() || !newNo.IsPositive() {
		return LiquidityChange{}, domain.ErrPoolDrained
	}
	return LiquidityChange{
		Yes:      newYes,
		No:       newNo,
		LPShares: shares,
		LPTotal:  lpTotal.Sub(shares),
		Value:    payout,
	}, nil
}
