package amm_test

import (
	"testing"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolValue(t *testing.T) {
	assert.True(t, amm.PoolValue(decimal.NewFromInt(1000), decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(1000)))
	// 2·400·1600/2000 = 640
	assert.True(t, amm.PoolValue(decimal.NewFromInt(400), decimal.NewFromInt(1600)).Equal(decimal.NewFromInt(640)))
	assert.True(t, amm.PoolValue(decimal.Zero, decimal.Zero).IsZero())
}

func TestAddLiquidity_PreservesPrice(t *testing.T) {
	yes, no := decimal.NewFromInt(400), decimal.NewFromInt(1600)
	before, err := amm.NewCPMM(yes, no, onePct).Prices()
	require.NoError(t, err)

	ch, err := amm.AddLiquidity(yes, no, decimal.NewFromInt(640), decimal.NewFromInt(320))
	require.NoError(t, err)

	// V = 640, so adding 320 scales reserves by 1.5 and mints 640·320/640 = 320.
	assert.True(t, ch.Yes.Equal(decimal.NewFromInt(600)), "yes = %s", ch.Yes)
	assert.True(t, ch.No.Equal(decimal.NewFromInt(2400)), "no = %s", ch.No)
	assert.True(t, ch.LPShares.Equal(decimal.NewFromInt(320)))
	assert.True(t, ch.LPTotal.Equal(decimal.NewFromInt(960)))

	after, err := amm.NewCPMM(ch.Yes, ch.No, onePct).Prices()
	require.NoError(t, err)
	assert.True(t, after[0].Equal(before[0]), "price moved %s -> %s", before[0], after[0])
}

func TestRemoveLiquidity_ProRataAtCurrentPrices(t *testing.T) {
	ch, err := amm.RemoveLiquidity(decimal.NewFromInt(600), decimal.NewFromInt(2400), decimal.NewFromInt(960), decimal.NewFromInt(240))
	require.NoError(t, err)

	// A quarter of the pool: reserves shrink by 1/4, payout is V/4 = 960/4.
	assert.True(t, ch.Yes.Equal(decimal.NewFromInt(450)))
	assert.True(t, ch.No.Equal(decimal.NewFromInt(1800)))
	assert.True(t, ch.Value.Equal(decimal.NewFromInt(240)), "payout = %s", ch.Value)
	assert.True(t, ch.LPTotal.Equal(decimal.NewFromInt(720)))
}

func TestRemoveLiquidity_Errors(t *testing.T) {
	_, err := amm.RemoveLiquidity(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(101))
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	_, err = amm.RemoveLiquidity(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	_, err = amm.AddLiquidity(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSeedPool(t *testing.T) {
	ch := amm.SeedPool(decimal.NewFromInt(5000))
	assert.True(t, ch.Yes.Equal(ch.No))
	assert.True(t, ch.LPShares.Equal(decimal.NewFromInt(5000)))
}
