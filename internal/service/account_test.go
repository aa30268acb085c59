package service_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Deposits ──────────────────────────────────────────────────────────────────

func TestDeposit_CreditsOnce(t *testing.T) {
	h := newHarness(t)
	hash := "0x" + strings.Repeat("AB", 32)
	svc := service.NewDepositService(h.store, h.cfg, nil, &fakeVerifier{amount: d("250")})

	dep, err := svc.Deposit(h.ctx, domain.DepositRequest{User: alice, TxHash: hash})
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(hash), dep.TxHash)
	assertDecimal(t, "250", h.available(alice))

	_, err = svc.Deposit(h.ctx, domain.DepositRequest{User: alice, TxHash: strings.ToLower(hash)})
	assert.ErrorIs(t, err, domain.ErrDepositDuplicate, "hash case does not matter")
	assertDecimal(t, "250", h.available(alice))

	_, err = svc.Deposit(h.ctx, domain.DepositRequest{User: alice, TxHash: "0x1234"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeposit_VerifierFailures(t *testing.T) {
	h := newHarness(t)
	hash := "0x" + strings.Repeat("cd", 32)

	_, err := service.NewDepositService(h.store, h.cfg, nil, nil).
		Deposit(h.ctx, domain.DepositRequest{User: alice, TxHash: hash})
	assert.ErrorIs(t, err, domain.ErrVerificationUnavailable)

	_, err = service.NewDepositService(h.store, h.cfg, nil, &fakeVerifier{err: domain.ErrTxNoTransfer}).
		Deposit(h.ctx, domain.DepositRequest{User: alice, TxHash: hash})
	assert.ErrorIs(t, err, domain.ErrTxNoTransfer)
	assert.True(t, h.available(alice).IsZero())
}

// ── Liquidity ─────────────────────────────────────────────────────────────────

func TestLiquidity_AddThenRemove(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	h.fund(alice, "500")

	added, err := h.liquidity.Add(h.ctx, domain.LiquidityRequest{User: alice, MarketID: m.ID, Amount: d("500")})
	require.NoError(t, err)
	assertDecimal(t, "500", added.LPShares, "balanced pool mints one share per unit")
	after := h.market(m.ID)
	assertDecimal(t, "1500", after.YesReserve)
	assertDecimal(t, "1500", after.LPSharesTotal)
	assertDecimal(t, "1500", after.TotalLiquidity)
	assert.True(t, h.available(alice).IsZero())

	removed, err := h.liquidity.Remove(h.ctx, domain.LiquidityRequest{User: alice, MarketID: m.ID, Amount: d("500")})
	require.NoError(t, err)
	assertDecimal(t, "500", removed.Value)
	assertDecimal(t, "500", h.available(alice))

	_, err = h.liquidity.Remove(h.ctx, domain.LiquidityRequest{User: alice, MarketID: m.ID, Amount: d("1")})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares, "alice's LP row is gone")

	_, err = h.liquidity.Remove(h.ctx, domain.LiquidityRequest{User: creator, MarketID: m.ID, Amount: d("1000")})
	assert.ErrorIs(t, err, domain.ErrPoolDrained)
}

// After trades move the price, an LP exit pays pool value, not the deposit.
func TestLiquidity_RemoveAfterPriceMove(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	h.fund(alice, "400")
	h.buy(alice, m.ID, domain.OutcomeYes, "400")

	removed, err := h.liquidity.Remove(h.ctx, domain.LiquidityRequest{User: creator, MarketID: m.ID, Amount: d("500")})
	require.NoError(t, err)
	assert.True(t, removed.Value.LessThan(d("500")))
	assert.True(t, removed.Value.IsPositive())
	assert.True(t, h.available(creator).Equal(removed.Value))
}

// LP shares cannot be burned once the market has ended, nor after it
// resolves.
func TestLiquidity_ForfeitedAtResolution(t *testing.T) {
	h := newHarness(t)
	m := h.binaryMarket("1000")
	req := domain.LiquidityRequest{User: creator, MarketID: m.ID, Amount: d("100")}

	h.clock.Advance(time.Hour + time.Minute)
	_, err := h.liquidity.Remove(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrMarketExpired)

	h.resolveBy(m.ID, domain.OutcomeYes)
	_, err = h.liquidity.Remove(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)
	assert.True(t, h.available(creator).IsZero())
}

// ── Accounts ──────────────────────────────────────────────────────────────────

func TestAccount_EmptyUser(t *testing.T) {
	h := newHarness(t)
	b := h.balance(carol)
	assert.True(t, b.Available.IsZero())
	ps, err := h.accounts.Positions(h.ctx, carol)
	require.NoError(t, err)
	assert.NotNil(t, ps)
	assert.Empty(t, ps)
}

func TestAccount_Ledger(t *testing.T) {
	h := newHarness(t)
	m := h.seedResolved("5000", "8000", map[string]string{alice: "2000", bob: "6000"})

	entries, err := h.accounts.Ledger(h.ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = h.claims.Claim(h.ctx, alice, m.ID)
	require.NoError(t, err)
	entries, err = h.accounts.Ledger(h.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, alice, entries[0].User)
	assertDecimal(t, "1250", entries[0].Amount)

	_, err = h.accounts.Ledger(h.ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

// ── Archive ───────────────────────────────────────────────────────────────────

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (b *memBlobs) Put(_ context.Context, key string, data io.Reader, _ string) error {
	if b.err != nil {
		return b.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = raw
	return nil
}

func TestArchive_WritesLedgerAsJSONLines(t *testing.T) {
	h := newHarness(t)
	blobs := &memBlobs{}
	svc := service.NewArchiveService(h.store, h.cfg, nil, blobs, h.audit)
	svc.SetClock(h.clock.Now)

	m := h.binaryMarket("1000")
	h.fund(alice, "100")
	h.fund(bob, "100")
	h.buy(alice, m.ID, domain.OutcomeYes, "100")
	h.buy(bob, m.ID, domain.OutcomeNo, "100")

	_, err := svc.ArchiveMarket(h.ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	h.resolveBy(m.ID, domain.OutcomeYes)
	n, err := svc.SweepArchive(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	key := "2026/03/01/" + m.ID.String() + ".jsonl"
	raw, ok := blobs.objects[key]
	require.True(t, ok, "keys: %v", blobs.objects)

	sc := bufio.NewScanner(bytes.NewReader(raw))
	require.True(t, sc.Scan())
	var header struct {
		Market  domain.Market             `json:"market"`
		Audit   domain.ConservationReport `json:"audit"`
		Entries int                       `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &header))
	assert.Equal(t, m.ID, header.Market.ID)
	assert.True(t, header.Audit.Holds)
	assert.Equal(t, 2, header.Entries)

	var total decimal.Decimal
	lines := 0
	for sc.Scan() {
		var e domain.LedgerEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		total = total.Add(e.Amount)
		lines++
	}
	assert.Equal(t, header.Entries, lines)
	assertDecimal(t, "200", total)
	assert.NotNil(t, h.market(m.ID).ArchivedAt)

	n, err = svc.SweepArchive(h.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "archived markets are skipped")
}

func TestArchive_DisabledOrFailing(t *testing.T) {
	h := newHarness(t)
	off := service.NewArchiveService(h.store, h.cfg, nil, nil, h.audit)
	assert.False(t, off.Enabled())
	n, err := off.SweepArchive(h.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	m := h.binaryMarket("1000")
	require.NoError(t, h.markets.Cancel(h.ctx, domain.Caller{Address: admin, Admin: true}, m.ID))

	broken := service.NewArchiveService(h.store, h.cfg, nil, &memBlobs{err: errors.New("bucket gone")}, h.audit)
	_, err = broken.ArchiveMarket(h.ctx, m.ID)
	require.Error(t, err)
	assert.Nil(t, h.market(m.ID).ArchivedAt, "a failed upload leaves the market unarchived")
}
