package amm_test

import (
	"testing"

	"github.com/evetabi/predex/internal/amm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticDepth_Monotonic(t *testing.T) {
	makers := map[string]amm.Maker{
		"cpmm": amm.NewCPMM(decimal.NewFromInt(10000), decimal.NewFromInt(10000), onePct),
	}
	lmsr, err := amm.NewLMSR(zeros(3), decimal.NewFromInt(1000), onePct)
	require.NoError(t, err)
	makers["lmsr"] = lmsr

	for name, m := range makers {
		t.Run(name, func(t *testing.T) {
			depth := amm.SyntheticDepth(m, 0, amm.DefaultDepthSteps)
			require.NotEmpty(t, depth.Asks)
			require.NotEmpty(t, depth.Bids)

			for i := 1; i < len(depth.Asks); i++ {
				assert.True(t, depth.Asks[i].Price.GreaterThanOrEqual(depth.Asks[i-1].Price),
					"asks not ascending at %d: %s < %s", i, depth.Asks[i].Price, depth.Asks[i-1].Price)
			}
			for i := 1; i < len(depth.Bids); i++ {
				assert.True(t, depth.Bids[i].Price.LessThanOrEqual(depth.Bids[i-1].Price),
					"bids not descending at %d", i)
			}
			// The maker never buys back above what it sells for.
			assert.True(t, depth.Bids[0].Price.LessThan(depth.Asks[0].Price))
		})
	}
}

func TestSyntheticDepth_QuotedScale(t *testing.T) {
	pool := amm.NewCPMM(decimal.NewFromInt(10000), decimal.NewFromInt(10000), onePct)
	depth := amm.SyntheticDepth(pool, amm.Yes, amm.DefaultDepthSteps)
	require.NotEmpty(t, depth.Asks)
	require.NotEmpty(t, depth.Bids)

	half := decimal.RequireFromString("0.5")
	assert.True(t, depth.Asks[0].Price.GreaterThan(half), "best ask %s", depth.Asks[0].Price)
	assert.True(t, depth.Asks[0].Price.LessThan(decimal.RequireFromString("0.51")), "best ask %s", depth.Asks[0].Price)
	assert.True(t, depth.Bids[0].Price.LessThan(half), "best bid %s", depth.Bids[0].Price)
	assert.True(t, depth.Bids[0].Price.GreaterThan(decimal.RequireFromString("0.49")), "best bid %s", depth.Bids[0].Price)

	for _, lvl := range append(depth.Asks, depth.Bids...) {
		assert.True(t, lvl.Price.IsPositive() && lvl.Price.LessThan(decimal.NewFromInt(1)), "price %s outside (0,1)", lvl.Price)
	}
}

func TestAskBidAfter_FeeAdjusted(t *testing.T) {
	fivePct := decimal.RequireFromString("0.05")
	pool := amm.NewCPMM(decimal.NewFromInt(10000), decimal.NewFromInt(10000), fivePct)

	buy, err := pool.QuoteBuyShares(amm.Yes, decimal.NewFromInt(10))
	require.NoError(t, err)
	ask, err := amm.AskAfter(pool, buy)
	require.NoError(t, err)
	after, err := pool.PricesAt(buy.Reserves)
	require.NoError(t, err)
	assert.True(t, ask.GreaterThan(after[amm.Yes]), "the fee lifts the ask")
	assert.True(t, ask.GreaterThan(decimal.RequireFromString("0.52")) && ask.LessThan(decimal.RequireFromString("0.53")), "ask %s", ask)

	sell, err := pool.QuoteSell(amm.Yes, decimal.NewFromInt(10))
	require.NoError(t, err)
	bid, err := amm.BidAfter(pool, sell)
	require.NoError(t, err)
	assert.True(t, bid.GreaterThan(decimal.RequireFromString("0.47")) && bid.LessThan(decimal.RequireFromString("0.48")), "bid %s", bid)
}
