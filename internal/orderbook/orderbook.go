// Package orderbook aggregates resting limit orders and synthetic AMM depth
// into price levels for one outcome of a market.
package orderbook

import (
	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/domain"
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// Level is one price level. Size is the total quantity available; AMMSize
// is the part of it quoted by the pricing engine rather than resting orders.
type Level struct {
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	AMMSize decimal.Decimal `json:"amm_size"`
	Orders  int             `json:"orders"`
}

func lessAsc(a, b Level) bool  { return a.Price.LessThan(b.Price) }
func lessDesc(a, b Level) bool { return a.Price.GreaterThan(b.Price) }

// Book holds the bid and ask levels of one outcome.
// Bids are sorted descending, asks ascending.
type Book struct {
	outcome domain.Outcome
	bids    *btree.BTreeG[Level]
	asks    *btree.BTreeG[Level]
}

// New creates an empty book for outcome.
func New(outcome domain.Outcome) *Book {
	return &Book{
		outcome: outcome,
		bids:    btree.NewG(32, lessDesc),
		asks:    btree.NewG(32, lessAsc),
	}
}

func (b *Book) tree(side domain.Side) *btree.BTreeG[Level] {
	if side == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) add(side domain.Side, price, size decimal.Decimal, fromAMM bool) {
	if !size.IsPositive() {
		return
	}
	tree := b.tree(side)
	lvl, found := tree.Get(Level{Price: price})
	if !found {
		lvl = Level{Price: price, Size: decimal.Zero, AMMSize: decimal.Zero}
	}
	lvl.Size = lvl.Size.Add(size)
	if fromAMM {
		lvl.AMMSize = lvl.AMMSize.Add(size)
	} else {
		lvl.Orders++
	}
	tree.ReplaceOrInsert(lvl)
}

// AddOrder adds the remaining quantity of a resting order. Orders for other
// outcomes or no longer resting are ignored.
func (b *Book) AddOrder(o *domain.Order) {
	if o.Outcome != b.outcome || !o.Status.IsResting() {
		return
	}
	b.add(o.Side, o.Price, o.Remaining(), false)
}

// AddDepth merges synthetic AMM levels. AMM bids are prices a seller
// receives, asks are prices a buyer pays.
func (b *Book) AddDepth(d amm.Depth) {
	if domain.Outcome(d.Outcome) != b.outcome {
		return
	}
	for _, l := range d.Bids {
		b.add(domain.SideBuy, l.Price, l.Size, true)
	}
	for _, l := range d.Asks {
		b.add(domain.SideSell, l.Price, l.Size, true)
	}
}

// Top returns up to n best levels on side (n <= 0 returns all).
func (b *Book) Top(side domain.Side, n int) []Level {
	tree := b.tree(side)
	levels := make([]Level, 0, tree.Len())
	tree.Ascend(func(l Level) bool {
		levels = append(levels, l)
		return n <= 0 || len(levels) < n
	})
	return levels
}

// BestBid returns the highest bid, if any.
func (b *Book) BestBid() (Level, bool) { return b.bids.Min() }

// BestAsk returns the lowest ask, if any.
func (b *Book) BestAsk() (Level, bool) { return b.asks.Min() }

// Snapshot is the JSON shape of a book.
type Snapshot struct {
	Outcome domain.Outcome `json:"outcome"`
	Bids    []Level        `json:"bids"`
	Asks    []Level        `json:"asks"`
}

// Snapshot renders the top depth levels of each side.
func (b *Book) Snapshot(depth int) Snapshot {
	return Snapshot{Outcome: b.outcome, Bids: b.Top(domain.SideBuy, depth), Asks: b.Top(domain.SideSell, depth)}
}

// Build returns one book per outcome containing the given resting orders.
func Build(outcomes int, orders []*domain.Order) []*Book {
	books := make([]*Book, outcomes)
	for i := range books {
		books[i] = New(domain.Outcome(i))
	}
	for _, o := range orders {
		if int(o.Outcome) >= 0 && int(o.Outcome) < outcomes {
			books[o.Outcome].AddOrder(o)
		}
	}
	return books
}
