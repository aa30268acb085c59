package domain_test

import (
	"testing"

	"github.com/evetabi/predex/internal/domain"
	"github.com/shopspring/decimal"
)

// TestProRataPayout validates the winner payout formula shared by settlement
// and the claim fallback.
//
//	net deposits         = 5000
//	winning shares total = 8000
//	holder shares        = 2000
//	payout               = 2000/8000 × 5000 = 1250
func TestProRataPayout(t *testing.T) {
	got := domain.ProRataPayout(
		decimal.NewFromInt(2000),
		decimal.NewFromInt(8000),
		decimal.NewFromInt(5000),
	)
	if !got.Equal(decimal.NewFromInt(1250)) {
		t.Errorf("ProRataPayout() = %s, want 1250", got)
	}
}

// TestProRataPayout_NeverExceedsPool splits a pool across holders whose
// shares do not divide it evenly. Truncation must keep the sum at or below
// the pool.
func TestProRataPayout_NeverExceedsPool(t *testing.T) {
	pool := decimal.NewFromInt(1000)
	holdings := []decimal.Decimal{
		decimal.NewFromInt(1),
		decimal.NewFromInt(1),
		decimal.NewFromInt(1),
		decimal.RequireFromString("0.333333"),
		decimal.RequireFromString("7.777777"),
	}
	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h)
	}

	paid := decimal.Zero
	for _, h := range holdings {
		p := domain.ProRataPayout(h, total, pool)
		if p.Exponent() < -domain.Scale {
			t.Errorf("payout %s has more than %d decimals", p, domain.Scale)
		}
		paid = paid.Add(p)
	}
	if paid.GreaterThan(pool) {
		t.Errorf("sum of payouts %s exceeds pool %s", paid, pool)
	}
	// Truncation loses at most one unit per holder.
	maxLoss := domain.Unit.Mul(decimal.NewFromInt(int64(len(holdings))))
	if pool.Sub(paid).GreaterThan(maxLoss) {
		t.Errorf("dust %s exceeds %s", pool.Sub(paid), maxLoss)
	}
}

func TestProRataPayout_ZeroInputs(t *testing.T) {
	if !domain.ProRataPayout(decimal.NewFromInt(10), decimal.Zero, decimal.NewFromInt(100)).IsZero() {
		t.Error("zero total shares should pay nothing")
	}
	if !domain.ProRataPayout(decimal.NewFromInt(10), decimal.NewFromInt(10), decimal.Zero).IsZero() {
		t.Error("zero pool should pay nothing")
	}
}

func TestDivUpDown(t *testing.T) {
	a, b := decimal.NewFromInt(1), decimal.NewFromInt(3)
	if got := domain.DivDown(a, b); !got.Equal(decimal.RequireFromString("0.333333")) {
		t.Errorf("DivDown(1,3) = %s", got)
	}
	if got := domain.DivUp(a, b); !got.Equal(decimal.RequireFromString("0.333334")) {
		t.Errorf("DivUp(1,3) = %s", got)
	}
	if got := domain.DivUp(decimal.NewFromInt(6), b); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("DivUp(6,3) = %s, want 2", got)
	}
}
