package service_test

import (
	"testing"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// R_yes = R_no = 10000, buy 1000 of YES at 1% fee: effective 990, R_no' =
// 10990, R_yes' = 1e8/10990 rounded up, price_yes ≈ 0.547.
func TestBuy_ReferenceExample(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("10000")
	h.fund(alice, "1000")

	res := h.buy(alice, m.ID, domain.OutcomeYes, "1000")

	assertDecimal(t, "10", res.Fee)
	assertDecimal(t, "900.818926", res.Shares)
	assert.InDelta(t, 0.547, res.Prices[domain.OutcomeYes].InexactFloat64(), 0.001)
	assert.InDelta(t, 1.0, res.Prices[0].Add(res.Prices[1]).InexactFloat64(), 1e-5)

	after := h.market(m.ID)
	assertDecimal(t, "9099.181074", after.YesReserve)
	assertDecimal(t, "10990", after.NoReserve)
	assertDecimal(t, "1000", after.BuyVolume)
	assertDecimal(t, "10", after.FeesCollected)
	assert.True(t, after.YesReserve.Mul(after.NoReserve).GreaterThanOrEqual(m.YesReserve.Mul(m.NoReserve)), "k never decreases")

	assert.True(t, h.available(alice).IsZero())
	assertDecimal(t, "900.818926", h.position(alice, m.ID, domain.OutcomeYes))
}

func TestSell_ReturnsLessThanPaid(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("10000")
	h.fund(alice, "1000")
	bought := h.buy(alice, m.ID, domain.OutcomeYes, "1000")

	res, err := h.trades.Sell(h.ctx, domain.TradeRequest{
		User: alice, MarketID: m.ID, Outcome: domain.OutcomeYes, Amount: bought.Shares,
	})
	require.NoError(t, err)
	assert.True(t, res.Amount.LessThan(bought.Amount), "round trip pays fees twice")
	assert.True(t, res.Fee.IsPositive())

	assert.True(t, h.position(alice, m.ID, domain.OutcomeYes).IsZero())
	assert.True(t, h.available(alice).Equal(res.Amount))
	after := h.market(m.ID)
	assert.True(t, after.SellVolume.Equal(res.Amount))
	assert.True(t, after.NetDeposits().Equal(after.BuyVolume.Sub(after.SellVolume)))
}

func TestBuy_Guards(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("10000")
	h.fund(alice, "100")

	_, err := h.trades.Buy(h.ctx, domain.TradeRequest{User: alice, MarketID: m.ID, Outcome: domain.OutcomeYes, Amount: d("500")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.trades.Buy(h.ctx, domain.TradeRequest{User: alice, MarketID: m.ID, Outcome: domain.OutcomeYes, Amount: d("100"), MinOut: d("1000")})
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assertDecimal(t, "100", h.available(alice), "failed trades leave no trace")

	_, err = h.trades.Buy(h.ctx, domain.TradeRequest{User: alice, MarketID: m.ID, Outcome: 2, Amount: d("10")})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = h.trades.Sell(h.ctx, domain.TradeRequest{User: alice, MarketID: m.ID, Outcome: domain.OutcomeNo, Amount: d("10")})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	h.clock.Advance(2 * time.Hour)
	_, err = h.trades.Buy(h.ctx, domain.TradeRequest{User: alice, MarketID: m.ID, Outcome: domain.OutcomeYes, Amount: d("10")})
	assert.ErrorIs(t, err, domain.ErrMarketExpired)
}

func TestQuote_DoesNotMutate(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("10000")

	q, err := h.trades.Quote(h.ctx, m.ID, domain.OutcomeYes, domain.SideBuy, d("1000"))
	require.NoError(t, err)
	assertDecimal(t, "900.818926", q.Shares)

	after := h.market(m.ID)
	assert.True(t, after.YesReserve.Equal(m.YesReserve))
	assert.True(t, after.BuyVolume.IsZero())
}

func TestMultiOutcome_PricesSumToOne(t *testing.T) {
	h := newHarness(t)
	h.fund(creator, "1000")
	v, err := h.markets.Create(h.ctx, domain.CreateMarketRequest{
		Caller:    domain.Caller{Address: creator},
		Kind:      domain.KindMulti,
		Question:  "Who wins?",
		EndTime:   h.clock.Now().Add(h.cfg.Engine.DefaultWindow),
		Liquidity: d("1000"),
		Options:   []string{"red", "green", "blue"},
	})
	require.NoError(t, err)
	require.Len(t, v.Options, 3)

	h.fund(alice, "200")
	res := h.buy(alice, v.ID, 1, "200")
	sum := res.Prices[0].Add(res.Prices[1]).Add(res.Prices[2])
	assert.InDelta(t, 1.0, sum.InexactFloat64(), 1e-5)
	assert.True(t, res.Prices[1].GreaterThan(res.Prices[0]))

	got, err := h.markets.Get(h.ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.Options[1].Reserve.Equal(res.Shares), "q_i grows by the shares bought")

	_, err = h.liquidity.Add(h.ctx, domain.LiquidityRequest{User: alice, MarketID: v.ID, Amount: d("10")})
	assert.ErrorIs(t, err, domain.ErrMultiOutcomeLiquidity)
}
