package domain

import "github.com/shopspring/decimal"

// Unit is the smallest representable amount, 10^-Scale.
var Unit = decimal.New(1, -Scale)

// DivDown returns a/b truncated to Scale places. Operands must be positive.
func DivDown(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, Scale)
	return q
}

// DivUp returns a/b rounded up to Scale places. Operands must be positive.
func DivUp(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, Scale)
	if !r.IsZero() {
		q = q.Add(Unit)
	}
	return q
}

// ProRataPayout is shares/totalShares of pool, truncated so the sum over
// all holders never exceeds pool.
func ProRataPayout(shares, totalShares, pool decimal.Decimal) decimal.Decimal {
	if !shares.IsPositive() || !totalShares.IsPositive() || !pool.IsPositive() {
		return decimal.Zero
	}
	return DivDown(pool.Mul(shares), totalShares)
}
