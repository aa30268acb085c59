package service_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/evetabi/predex/internal/domain"
	"github.com/shopspring/decimal"
)

// TestConcurrentBuys runs 50 buyers against one pool, each spending from
// a balance that covers exactly 40 of them. The store's row locks must let
// exactly 40 succeed and keep the pool invariant intact.
func TestConcurrentBuys(t *testing.T) {
	const workers = 50
	const funded = 40

	h := newHarness(t)
	m := h.binaryMarket("10000")
	h.fund(alice, decimal.NewFromInt(funded*10).String())

	var (
		ok, rejected int64
		wg           sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.trades.Buy(h.ctx, domain.TradeRequest{
				User: alice, MarketID: m.ID, Outcome: domain.OutcomeYes, Amount: d("10"),
			})
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, domain.ErrInsufficientBalance):
				atomic.AddInt64(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != funded || rejected != workers-funded {
		t.Fatalf("expected %d buys and %d rejections, got %d and %d", funded, workers-funded, ok, rejected)
	}
	if !h.available(alice).IsZero() {
		t.Errorf("balance should be 0, got %s", h.available(alice))
	}
	after := h.market(m.ID)
	if !after.BuyVolume.Equal(d("400")) {
		t.Errorf("buy volume should be 400, got %s", after.BuyVolume)
	}
	if after.YesReserve.Mul(after.NoReserve).LessThan(m.YesReserve.Mul(m.NoReserve)) {
		t.Errorf("k decreased: %s × %s", after.YesReserve, after.NoReserve)
	}
}

// TestConcurrentCancel verifies that only one of N cancels of the same order
// releases its escrow.
func TestConcurrentCancel(t *testing.T) {
	const workers = 20

	h := newHarness(t)
	m := h.binaryMarket("10000")
	h.fund(alice, "100")
	o := h.limit(alice, m.ID, domain.SideBuy, "0.2", "100").Order

	var (
		wins, losses int64
		wg           sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orders.CancelOrder(h.ctx, alice, o.ID)
			if err == nil {
				atomic.AddInt64(&wins, 1)
				return
			}
			if errors.Is(err, domain.ErrOrderNotOpen) {
				atomic.AddInt64(&losses, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("exactly 1 goroutine should have cancelled the order, got %d", wins)
	}
	if losses != workers-1 {
		t.Errorf("expected %d rejections, got %d", workers-1, losses)
	}
	if !h.available(alice).Equal(d("100")) {
		t.Errorf("escrow released more than once: available %s", h.available(alice))
	}
}
