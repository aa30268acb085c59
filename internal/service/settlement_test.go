package service_test

import (
	"fmt"
	"testing"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trader(i int) string { return fmt.Sprintf("0x%040x", 0xbeef00+i) }

// Five YES holders with a batch size of two: resolution settles two, the
// keeper finishes the rest, and a straggler claim in between pays once.
func TestSettlement_BatchesThenSweeps(t *testing.T) {
	h := newHarness(t)
	h.cfg.Engine.SettlementBatchSize = 2
	m := h.binaryMarket("10000")
	for i := 0; i < 5; i++ {
		h.fund(trader(i), "200")
		h.buy(trader(i), m.ID, domain.OutcomeYes, "200")
	}
	h.fund(bob, "300")
	h.buy(bob, m.ID, domain.OutcomeNo, "300")

	res := h.resolveBy(m.ID, domain.OutcomeYes)
	assert.Equal(t, 2, res.Settled)
	assert.Nil(t, h.market(m.ID).SettledAt)

	early, err := h.claims.Claim(h.ctx, trader(4), m.ID)
	require.NoError(t, err)
	assert.True(t, early.Amount.IsPositive())

	n, err := h.settlement.SweepUnsettled(h.ctx, 10)
	require.NoError(t, err)
	assert.Positive(t, n)
	after := h.market(m.ID)
	require.NotNil(t, after.SettledAt)

	paid := decimal.Zero
	for i := 0; i < 5; i++ {
		entries := append(h.ledger(m.ID, trader(i), domain.ActionSettleWinner), h.ledger(m.ID, trader(i), domain.ActionClaimed)...)
		require.Len(t, entries, 1, "trader %d paid exactly once", i)
		assert.True(t, h.available(trader(i)).Equal(entries[0].Amount))
		paid = paid.Add(entries[0].Amount)
	}
	assert.True(t, paid.LessThanOrEqual(after.SettleNetDeposits))
	assert.True(t, after.SettleNetDeposits.Sub(paid).LessThan(d("0.00001")), "only rounding dust stays behind")
	assert.Len(t, h.ledger(m.ID, bob, domain.ActionSettleLoser), 1)

	count, err := h.store.CountPositions(h.ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, done, err := h.settlement.SettleMarket(h.ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, done, "settling a settled market is a no-op")
}

func TestSettleMarket_RequiresResolution(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	_, _, err := h.settlement.SettleMarket(h.ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestCancel_RefundsCostBasisAndEscrow(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	h.fund(alice, "100")
	h.buy(alice, m.ID, domain.OutcomeYes, "100")
	h.fund(bob, "30")
	h.limit(bob, m.ID, domain.SideBuy, "0.1", "100")
	creatorBefore := h.available(creator)

	err := h.markets.Cancel(h.ctx, domain.Caller{Address: alice}, m.ID)
	assert.ErrorIs(t, err, domain.ErrAdminOnly)

	require.NoError(t, h.markets.Cancel(h.ctx, domain.Caller{Address: admin, Admin: true}, m.ID))

	after := h.market(m.ID)
	assert.Equal(t, domain.StatusCancelled, after.Status)
	assert.NotNil(t, after.SettledAt)
	assert.True(t, d("100").Sub(h.available(alice)).LessThan(d("0.00001")), "cost basis back, up to rounding")
	assertDecimal(t, "30", h.available(bob))
	assert.True(t, h.balance(bob).Locked.IsZero())
	assert.True(t, h.available(creator).GreaterThan(creatorBefore), "LP gets the pool value")
	assert.Len(t, h.ledger(m.ID, alice, domain.ActionRefund), 1)
	assert.Len(t, h.ledger(m.ID, creator, domain.ActionRefund), 1)

	err = h.markets.Cancel(h.ctx, domain.Caller{Address: admin, Admin: true}, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
	_, err = h.claims.Claim(h.ctx, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

// ── Audit ─────────────────────────────────────────────────────────────────────

func TestAudit_HoldsAfterSettlement(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("10000")
	h.fund(alice, "500")
	h.fund(bob, "700")
	h.buy(alice, m.ID, domain.OutcomeYes, "500")
	h.buy(bob, m.ID, domain.OutcomeNo, "700")

	_, err := h.audit.VerifyConservation(h.ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	h.resolveBy(m.ID, domain.OutcomeNo)
	r, err := h.audit.VerifyConservation(h.ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, r.Holds)
	assert.Equal(t, 1, r.WinnerCount)
	assertDecimal(t, "1200", r.NetDeposits)
	assert.True(t, r.TotalPaid.LessThanOrEqual(r.NetDeposits))
	assert.Zero(t, r.Unsettled)
}

func TestAudit_ReportsOverpayment(t *testing.T) {
	h := newHarness(t)
	m := h.seedResolved("5000", "8000", map[string]string{alice: "2000", bob: "6000"})
	_, err := h.claims.Claim(h.ctx, alice, m.ID)
	require.NoError(t, err)

	require.NoError(t, h.store.WithTx(h.ctx, func(tx repository.Tx) error {
		return tx.AppendLedger(h.ctx, &domain.LedgerEntry{
			ID: uuid.New(), MarketID: m.ID, User: carol, Action: domain.ActionClaimed,
			Amount: d("4000"), CreatedAt: h.clock.Now(),
		})
	}))

	r, err := h.audit.VerifyConservation(h.ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, r.Holds)
	assertDecimal(t, "5250", r.TotalPaid)

	violations, err := h.audit.SweepAudit(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, violations)
}
