package amm

import (
	"github.com/shopspring/decimal"
)

// Level is one rung of a depth curve.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Depth is the synthetic book a maker offers for one outcome.
type Depth struct {
	Outcome int     `json:"outcome"`
	Bids    []Level `json:"bids"` // maker buys shares back, best first
	Asks    []Level `json:"asks"` // maker sells shares, best first
}

// DefaultDepthSteps are the cumulative trade sizes re-quoted to build a
// depth curve.
var DefaultDepthSteps = []decimal.Decimal{
	decimal.NewFromInt(10),
	decimal.NewFromInt(50),
	decimal.NewFromInt(100),
	decimal.NewFromInt(250),
	decimal.NewFromInt(500),
	decimal.NewFromInt(1000),
	decimal.NewFromInt(2500),
}

// SyntheticDepth re-quotes m at increasing cumulative sizes. Each level holds
// the shares added by one step, priced at the quote-scale price the maker
// shows once that step has executed (AskAfter / BidAfter), so synthetic
// levels share the (0,1) scale of resting limit orders. Sizes the maker
// cannot fill end the curve.
func SyntheticDepth(m Maker, outcome int, steps []decimal.Decimal) Depth {
	d := Depth{Outcome: outcome}

	prevShares := decimal.Zero
	for _, size := range steps {
		q, err := m.QuoteBuy(outcome, size)
		if err != nil {
			break
		}
		dShares := q.SharesOut.Sub(prevShares)
		if !dShares.IsPositive() {
			continue
		}
		price, err := AskAfter(m, q)
		if err != nil || price.GreaterThanOrEqual(one) {
			break
		}
		d.Asks = append(d.Asks, Level{Price: price, Size: dShares})
		prevShares = q.SharesOut
	}

	prevShares = decimal.Zero
	for _, size := range steps {
		q, err := m.QuoteSell(outcome, size)
		if err != nil {
			break
		}
		dShares := size.Sub(prevShares)
		if !dShares.IsPositive() {
			continue
		}
		price, err := BidAfter(m, q)
		if err != nil || !price.IsPositive() {
			break
		}
		d.Bids = append(d.Bids, Level{Price: price, Size: dShares})
		prevShares = size
	}
	return d
}
