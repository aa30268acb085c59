package amm_test

import (
	"math/rand"
	"testing"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	onePct = decimal.RequireFromString("0.01")
	d      = decimal.RequireFromString
)

// TestCPMM_BuyWorkedExample: 10000/10000 pool, buy 1000 YES at a 1% fee.
//
//	effective = 990
//	R_no'     = 10990
//	R_yes'    = 100,000,000 / 10990 ≈ 9099.181074 (rounded up)
//	sharesOut ≈ 900.818926
//	priceYes' ≈ 0.547
func TestCPMM_BuyWorkedExample(t *testing.T) {
	pool := amm.NewCPMM(decimal.NewFromInt(10000), decimal.NewFromInt(10000), onePct)

	q, err := pool.QuoteBuy(amm.Yes, decimal.NewFromInt(1000))
	require.NoError(t, err)

	assert.True(t, q.Fee.Equal(decimal.NewFromInt(10)), "fee = %s", q.Fee)
	assert.True(t, q.Reserves[amm.No].Equal(decimal.NewFromInt(10990)), "R_no' = %s", q.Reserves[amm.No])
	assert.True(t, q.Reserves[amm.Yes].Equal(d("9099.181074")), "R_yes' = %s", q.Reserves[amm.Yes])
	assert.True(t, q.SharesOut.Equal(d("900.818926")), "sharesOut = %s", q.SharesOut)

	after := amm.NewCPMM(q.Reserves[amm.Yes], q.Reserves[amm.No], onePct)
	prices, err := after.Prices()
	require.NoError(t, err)
	assert.True(t, prices[amm.Yes].Equal(d("0.547061")), "priceYes' = %s", prices[amm.Yes])
	assert.True(t, prices[amm.Yes].Add(prices[amm.No]).Equal(decimal.NewFromInt(1)))
}

func TestCPMM_QuoteDoesNotMutate(t *testing.T) {
	pool := amm.NewCPMM(decimal.NewFromInt(500), decimal.NewFromInt(800), onePct)
	_, err := pool.QuoteBuy(amm.No, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = pool.QuoteSell(amm.Yes, decimal.NewFromInt(100))
	require.NoError(t, err)

	yes, no := pool.Reserves()
	assert.True(t, yes.Equal(decimal.NewFromInt(500)))
	assert.True(t, no.Equal(decimal.NewFromInt(800)))
}

func TestCPMM_SellTakesFeeFromPayout(t *testing.T) {
	pool := amm.NewCPMM(d("9099.181074"), decimal.NewFromInt(10990), onePct)

	q, err := pool.QuoteSell(amm.Yes, d("900.818926"))
	require.NoError(t, err)

	// Selling the shares just bought releases ~990 of currency from the curve.
	assert.True(t, q.Gross.Sub(decimal.NewFromInt(990)).Abs().LessThanOrEqual(d("0.00001")), "gross = %s", q.Gross)
	assert.True(t, q.Fee.Equal(q.Gross.Mul(onePct).RoundUp(domain.Scale)), "fee = %s", q.Fee)
	assert.True(t, q.Payout.Equal(q.Gross.Sub(q.Fee)))
	assert.True(t, q.SharesIn.Equal(d("900.818926")))
}

func TestCPMM_InsufficientLiquidity(t *testing.T) {
	for _, pool := range []*amm.CPMM{
		amm.NewCPMM(decimal.Zero, decimal.NewFromInt(100), onePct),
		amm.NewCPMM(decimal.NewFromInt(100), decimal.NewFromInt(-1), onePct),
	} {
		_, err := pool.QuoteBuy(amm.Yes, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
		_, err = pool.QuoteSell(amm.No, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
		_, err = pool.Prices()
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	}

	pool := amm.NewCPMM(decimal.NewFromInt(100), decimal.NewFromInt(100), onePct)
	_, err := pool.QuoteBuyShares(amm.Yes, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity, "buying the whole reserve must be refused")
}

func TestCPMM_RejectsBadInput(t *testing.T) {
	pool := amm.NewCPMM(decimal.NewFromInt(100), decimal.NewFromInt(100), onePct)
	_, err := pool.QuoteBuy(2, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = pool.QuoteBuy(amm.Yes, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = pool.QuoteSell(amm.No, decimal.NewFromInt(-3))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCPMM_BuySharesInvertsBuy(t *testing.T) {
	pool := amm.NewCPMM(decimal.NewFromInt(10000), decimal.NewFromInt(10000), onePct)

	exact, err := pool.QuoteBuyShares(amm.Yes, d("900.818926"))
	require.NoError(t, err)
	// Paying the quoted amount must buy at least the requested shares.
	back, err := pool.QuoteBuy(amm.Yes, exact.AmountIn)
	require.NoError(t, err)
	assert.True(t, back.SharesOut.GreaterThanOrEqual(d("900.818926")), "shares = %s", back.SharesOut)
	assert.True(t, exact.AmountIn.Sub(decimal.NewFromInt(1000)).Abs().LessThan(d("0.00001")), "amountIn = %s", exact.AmountIn)
}

// TestCPMM_Properties walks random trade sequences and checks, after every
// step, that prices sum to 1 and that k never decreases by more than the
// fee-free rounding allowance.
func TestCPMM_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	yes, no := decimal.NewFromInt(5000), decimal.NewFromInt(5000)

	for i := 0; i < 500; i++ {
		pool := amm.NewCPMM(yes, no, onePct)
		k := pool.K()
		outcome := rng.Intn(2)
		size := decimal.NewFromFloat(1 + rng.Float64()*400).Round(domain.Scale)

		var next []decimal.Decimal
		if rng.Intn(3) == 0 {
			q, err := pool.QuoteSell(outcome, size)
			require.NoError(t, err)
			next = q.Reserves
		} else {
			q, err := pool.QuoteBuy(outcome, size)
			require.NoError(t, err)
			assert.True(t, q.Fee.GreaterThanOrEqual(size.Mul(onePct)))
			next = q.Reserves
		}
		yes, no = next[amm.Yes], next[amm.No]

		after := amm.NewCPMM(yes, no, onePct)
		assert.True(t, after.K().GreaterThanOrEqual(k), "step %d: k decreased %s -> %s", i, k, after.K())
		// Rounding the re-solved reserve up adds at most one unit times the other reserve.
		maxGain := domain.Unit.Mul(yes.Add(no))
		assert.True(t, after.K().Sub(k).LessThanOrEqual(maxGain), "step %d: k grew by %s", i, after.K().Sub(k))

		prices, err := after.Prices()
		require.NoError(t, err)
		assert.True(t, prices[0].Add(prices[1]).Equal(decimal.NewFromInt(1)), "step %d: prices %v", i, prices)
	}
}
