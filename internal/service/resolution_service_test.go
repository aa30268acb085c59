package service_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) propose(marketID uuid.UUID, o domain.Outcome) *domain.ResolutionProposal {
	h.t.Helper()
	p, err := h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: creator}, MarketID: marketID, Outcome: o,
	})
	require.NoError(h.t, err)
	return p
}

func (h *harness) challenge(by string, proposalID uuid.UUID) (*domain.ResolutionProposal, error) {
	return h.resolution.Challenge(h.ctx, domain.ChallengeRequest{
		Caller: domain.Caller{Address: by}, ProposalID: proposalID, Reason: "wrong outcome",
	})
}

func (h *harness) oracleMarket(symbol, target string, cmp domain.Comparator) *domain.Market {
	h.t.Helper()
	h.fund(creator, "1000")
	v, err := h.markets.Create(h.ctx, domain.CreateMarketRequest{
		Caller:           domain.Caller{Address: creator},
		Kind:             domain.KindBinary,
		Question:         "BTC above target?",
		EndTime:          h.clock.Now().Add(time.Hour),
		Liquidity:        d("1000"),
		OracleSymbol:     symbol,
		OracleTarget:     d(target),
		OracleComparator: cmp,
	})
	require.NoError(h.t, err)
	return v.Market
}

func TestPropose_Guards(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")

	_, err := h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: creator}, MarketID: m.ID, Outcome: domain.OutcomeYes,
	})
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)

	h.clock.Advance(time.Hour)
	_, err = h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: alice}, MarketID: m.ID, Outcome: domain.OutcomeYes,
	})
	assert.ErrorIs(t, err, domain.ErrProposeForbidden)

	_, err = h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: creator}, MarketID: m.ID, Outcome: 5,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: creator}, MarketID: m.ID, Outcome: domain.OutcomeYes, Window: 100 * time.Hour,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	p, err := h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: admin, Admin: true}, MarketID: m.ID, Outcome: domain.OutcomeNo,
	})
	require.NoError(t, err, "admins may propose on any market")
	assert.Equal(t, domain.ProposalProposed, p.Status)
	assert.True(t, h.clock.Now().Add(h.cfg.Engine.DefaultWindow).Equal(p.WindowEndsAt))
	assert.Equal(t, domain.StatusPendingResolution, h.market(m.ID).Status)

	_, err = h.resolution.Propose(h.ctx, domain.ProposeRequest{
		Caller: domain.Caller{Address: creator}, MarketID: m.ID, Outcome: domain.OutcomeYes,
	})
	assert.ErrorIs(t, err, domain.ErrActiveProposalExists)
}

func TestPropose_ContractBackedNeedsVerifier(t *testing.T) {
	h := newHarness(t)
	h.fund(creator, "1000")
	v, err := h.markets.Create(h.ctx, domain.CreateMarketRequest{
		Caller:          domain.Caller{Address: creator},
		Kind:            domain.KindBinary,
		Question:        "Settled on chain?",
		EndTime:         h.clock.Now().Add(time.Hour),
		Liquidity:       d("1000"),
		ContractAddress: "0x00000000000000000000000000000000000c0de1",
	})
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	req := domain.ProposeRequest{
		Caller:   domain.Caller{Address: creator},
		MarketID: v.ID,
		Outcome:  domain.OutcomeYes,
		Evidence: "0x" + strings.Repeat("ab", 32),
	}
	_, err = h.resolution.Propose(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrVerificationUnavailable)

	h.resolution.SetVerifier(&fakeVerifier{err: domain.ErrTxNotConfirmed})
	_, err = h.resolution.Propose(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrTxNotConfirmed)

	h.resolution.SetVerifier(&fakeVerifier{})
	p, err := h.resolution.Propose(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.Evidence, p.Evidence)
}

func TestChallenge_ExtendsWindowAndRejectsRepeats(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	h.clock.Advance(time.Hour)
	p := h.propose(m.ID, domain.OutcomeYes)

	_, err := h.challenge(creator, p.ID)
	assert.ErrorIs(t, err, domain.ErrSelfChallenge)

	_, err = h.resolution.Challenge(h.ctx, domain.ChallengeRequest{
		Caller: domain.Caller{Address: alice}, ProposalID: p.ID, Reason: "  ",
	})
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	h.clock.Advance(h.cfg.Engine.DefaultWindow - time.Minute)
	got, err := h.challenge(alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalChallenged, got.Status)
	assert.Equal(t, 1, got.ChallengeCount)
	assert.True(t, h.clock.Now().Add(h.cfg.Engine.DefaultWindow).Equal(got.WindowEndsAt))

	_, err = h.challenge(alice, p.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicateChallenge)

	view, err := h.resolution.GetProposal(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, view.Challenges, 1)
	assert.True(t, view.WindowOpen)
	assert.Equal(t, h.cfg.Engine.DefaultWindow, view.Remaining)

	h.clock.Advance(h.cfg.Engine.DefaultWindow)
	_, err = h.challenge(bob, p.ID)
	assert.ErrorIs(t, err, domain.ErrChallengeWindowClosed)
}

func TestChallenge_Limit(t *testing.T) {
	h := newHarness(t)
	h.cfg.Engine.MaxChallenges = 2
	m := h.binaryMarket("1000")
	h.clock.Advance(time.Hour)
	p := h.propose(m.ID, domain.OutcomeYes)

	for _, who := range []string{alice, bob} {
		_, err := h.challenge(who, p.ID)
		require.NoError(t, err)
	}
	_, err := h.challenge(carol, p.ID)
	assert.ErrorIs(t, err, domain.ErrChallengeLimitReached)
}

func TestFinalize_Lifecycle(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	h.fund(alice, "100")
	h.buy(alice, m.ID, domain.OutcomeYes, "100")
	h.clock.Advance(time.Hour)
	p := h.propose(m.ID, domain.OutcomeYes)

	_, err := h.resolution.Finalize(h.ctx, domain.FinalizeRequest{ProposalID: p.ID})
	assert.ErrorIs(t, err, domain.ErrChallengeWindowOpen)

	h.clock.Advance(h.cfg.Engine.DefaultWindow)
	res, err := h.resolution.Finalize(h.ctx, domain.FinalizeRequest{ProposalID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalFinalized, res.Proposal.Status)
	require.NotNil(t, res.Proposal.FinalOutcome)
	assert.Equal(t, domain.OutcomeYes, *res.Proposal.FinalOutcome)
	assert.Equal(t, domain.StatusResolved, res.Market.Status)
	assert.Equal(t, 1, res.Settled)
	assertDecimal(t, "100", res.Market.SettleNetDeposits)
	assertDecimal(t, "100", h.available(alice))

	_, err = h.resolution.Finalize(h.ctx, domain.FinalizeRequest{ProposalID: p.ID})
	assert.ErrorIs(t, err, domain.ErrProposalFinalized)

	_, err = h.challenge(alice, p.ID)
	assert.ErrorIs(t, err, domain.ErrProposalFinalized)
}

func TestFinalize_AdminOverride(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	h.fund(bob, "100")
	h.buy(bob, m.ID, domain.OutcomeNo, "100")
	h.clock.Advance(time.Hour)
	p := h.propose(m.ID, domain.OutcomeYes)
	no := domain.OutcomeNo

	h.clock.Advance(h.cfg.Engine.DefaultWindow)
	_, err := h.resolution.Finalize(h.ctx, domain.FinalizeRequest{
		Caller: domain.Caller{Address: alice}, ProposalID: p.ID, Override: &no,
	})
	assert.ErrorIs(t, err, domain.ErrAdminOnly)

	_, err = h.resolution.Finalize(h.ctx, domain.FinalizeRequest{
		Caller: domain.Caller{Address: admin, Admin: true}, ProposalID: p.ID, Override: &no,
	})
	assert.ErrorIs(t, err, domain.ErrOverrideNotAllowed, "unchallenged proposals finalize as proposed")

	// Second market: the proposal is challenged, so the admin may override.
	m2 := h.binaryMarket("1000")
	h.clock.Advance(time.Hour)
	p2 := h.propose(m2.ID, domain.OutcomeYes)
	_, err = h.challenge(carol, p2.ID)
	require.NoError(t, err)
	h.clock.Advance(h.cfg.Engine.DefaultWindow)

	res, err := h.resolution.Finalize(h.ctx, domain.FinalizeRequest{
		Caller: domain.Caller{Address: admin, Admin: true}, ProposalID: p2.ID, Override: &no,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, *res.Market.WinningOutcome)
	assert.Equal(t, domain.OutcomeNo, *res.Proposal.FinalOutcome)
}

// Resolution cancels resting orders first, so escrowed shares are paid.
func TestFinalize_CancelsOpenOrdersBeforeSnapshot(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("10000")
	h.fund(alice, "100")
	bought := h.buy(alice, m.ID, domain.OutcomeYes, "100")
	h.limit(alice, m.ID, domain.SideSell, "0.95", "10")
	h.fund(bob, "50")
	h.limit(bob, m.ID, domain.SideBuy, "0.1", "100")

	res := h.resolveBy(m.ID, domain.OutcomeYes)
	assert.True(t, res.Market.SettleWinningShares.Equal(bought.Shares))
	assertDecimal(t, "100", h.available(alice), "sole YES holder takes the net deposits")
	assertDecimal(t, "50", h.available(bob), "bid escrow returned")
	assert.True(t, h.balance(bob).Locked.IsZero())
	assert.Len(t, h.ledger(m.ID, bob, domain.ActionCancelOpenOrder), 1)
	assert.Len(t, h.ledger(m.ID, alice, domain.ActionCancelOpenOrder), 1)
}

func TestResolveByOracle(t *testing.T) {
	h := newHarness(t)
	above := h.oracleMarket("BTCUSDT", "90000", domain.ComparatorAbove)
	below := h.oracleMarket("BTCUSDT", "90000", domain.ComparatorBelow)

	_, err := h.resolution.ResolveByOracle(h.ctx, above.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)

	h.clock.Advance(time.Hour)
	h.feed.err = errors.New("exchange down")
	_, err = h.resolution.ResolveByOracle(h.ctx, above.ID)
	assert.ErrorIs(t, err, domain.ErrPriceFeedUnavailable)
	assert.Equal(t, domain.StatusActive, h.market(above.ID).Status)

	h.feed.err = nil
	h.feed.price = d("91000")
	m, err := h.resolution.ResolveByOracle(h.ctx, above.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, *m.WinningOutcome)

	m, err = h.resolution.ResolveByOracle(h.ctx, below.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, *m.WinningOutcome, "not crossed resolves NO")

	_, err = h.resolution.ResolveByOracle(h.ctx, above.ID)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	_, err = h.resolution.ResolveByOracle(h.ctx, h.binaryMarket("1000").ID)
	assert.ErrorIs(t, err, domain.ErrNoOracleRule)
}

func TestSweepOracle_SkipsMarketsUnderArbitration(t *testing.T) {
	h := newHarness(t)
	h.feed.price = d("95000")
	free := h.oracleMarket("BTCUSDT", "90000", domain.ComparatorAbove)
	disputed := h.oracleMarket("BTCUSDT", "90000", domain.ComparatorAbove)
	h.clock.Advance(time.Hour)
	h.propose(disputed.ID, domain.OutcomeNo)

	closed, err := h.markets.CloseEndedMarkets(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, closed, "the proposed market is already pending")

	n, err := h.resolution.SweepOracle(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusResolved, h.market(free.ID).Status)
	assert.Equal(t, domain.StatusPendingResolution, h.market(disputed.ID).Status)

	_, err = h.resolution.ResolveByOracle(h.ctx, disputed.ID)
	assert.ErrorIs(t, err, domain.ErrActiveProposalExists)
}
