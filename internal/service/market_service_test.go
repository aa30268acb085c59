package service_test

import (
	"testing"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_BinarySeedsPool(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")

	assert.Equal(t, domain.StatusActive, m.Status)
	assertDecimal(t, "1000", m.YesReserve)
	assertDecimal(t, "1000", m.NoReserve)
	assertDecimal(t, "1000", m.LPSharesTotal)
	assertDecimal(t, "0.01", m.FeeRate, "zero fee takes the default")
	assert.True(t, h.available(creator).IsZero(), "liquidity is debited from the creator")
}

func TestCreate_Rejections(t *testing.T) {
	h := newHarness(t)
	h.fund(creator, "100")
	base := domain.CreateMarketRequest{
		Caller:    domain.Caller{Address: creator},
		Kind:      domain.KindBinary,
		Question:  "Will it rain?",
		EndTime:   h.clock.Now().Add(time.Hour),
		Liquidity: d("100"),
	}

	past := base
	past.EndTime = h.clock.Now().Add(-time.Minute)
	_, err := h.markets.Create(h.ctx, past)
	assert.ErrorIs(t, err, domain.ErrValidation)

	single := base
	single.Kind = domain.KindMulti
	single.Options = []string{"only"}
	_, err = h.markets.Create(h.ctx, single)
	assert.ErrorIs(t, err, domain.ErrValidation)

	rich := base
	rich.Liquidity = d("101")
	_, err = h.markets.Create(h.ctx, rich)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assertDecimal(t, "100", h.available(creator), "a failed create debits nothing")
}

func TestListAndCount(t *testing.T) {
	h := newHarness(t)
	first := h.binaryMarket("100")
	h.binaryMarket("100")

	views, err := h.markets.List(h.ctx, repository.MarketFilter{Status: domain.StatusActive})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Len(t, views[0].Prices, 2)

	require.NoError(t, h.markets.Cancel(h.ctx, domain.Caller{Address: admin, Admin: true}, first.ID))

	counts, err := h.markets.CountByStatus(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusActive])
	assert.Equal(t, 1, counts[domain.StatusCancelled])
	assert.Equal(t, 0, counts[domain.StatusResolved])
}

func TestCancel_AdminOnly(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("100")

	err := h.markets.Cancel(h.ctx, domain.Caller{Address: creator}, m.ID)
	assert.ErrorIs(t, err, domain.ErrAdminOnly)

	adminCaller := domain.Caller{Address: admin, Admin: true}
	require.NoError(t, h.markets.Cancel(h.ctx, adminCaller, m.ID))
	assert.ErrorIs(t, h.markets.Cancel(h.ctx, adminCaller, m.ID), domain.ErrMarketAlreadyResolved)
}
