// Package amm implements the automated market makers that price outcome
// shares: a constant-product maker for binary markets and a logarithmic
// market scoring rule for N-way markets. Everything here is pure: quotes
// return the reserves a trade would leave behind and never mutate state.
//
// Rounding is always toward the protocol: shares and payouts handed to a
// trader are truncated, amounts owed by a trader are rounded up.
package amm

import (
	"github.com/shopspring/decimal"
)

// BuyQuote is the result of pricing a purchase.
type BuyQuote struct {
	Outcome   int               `json:"outcome"`
	AmountIn  decimal.Decimal   `json:"amount_in"`  // currency paid, fee included
	Fee       decimal.Decimal   `json:"fee"`        // part of AmountIn kept as fee
	SharesOut decimal.Decimal   `json:"shares_out"` // shares received
	AvgPrice  decimal.Decimal   `json:"avg_price"`  // AmountIn / SharesOut
	Reserves  []decimal.Decimal `json:"reserves"`   // state after the trade
}

// SellQuote is the result of pricing a sale.
type SellQuote struct {
	Outcome  int               `json:"outcome"`
	SharesIn decimal.Decimal   `json:"shares_in"`
	Gross    decimal.Decimal   `json:"gross"`  // value released by the curve
	Fee      decimal.Decimal   `json:"fee"`    // taken from Gross
	Payout   decimal.Decimal   `json:"payout"` // Gross - Fee, paid to the seller
	AvgPrice decimal.Decimal   `json:"avg_price"`
	Reserves []decimal.Decimal `json:"reserves"`
}

// Maker is implemented by both pricing engines so the order book and the
// synthetic depth builder can treat them alike.
type Maker interface {
	// Outcomes is the number of tradable outcomes.
	Outcomes() int
	// Prices returns one price per outcome; they sum to exactly 1.
	Prices() ([]decimal.Decimal, error)
	// QuoteBuy prices spending amountIn on outcome.
	QuoteBuy(outcome int, amountIn decimal.Decimal) (BuyQuote, error)
	// QuoteBuyShares prices acquiring exactly shares of outcome.
	QuoteBuyShares(outcome int, shares decimal.Decimal) (BuyQuote, error)
	// QuoteSell prices selling sharesIn of outcome back to the maker.
	QuoteSell(outcome int, sharesIn decimal.Decimal) (SellQuote, error)
	// PricesAt returns the prices the maker would quote with reserves, as
	// carried by a quote's Reserves field.
	PricesAt(reserves []decimal.Decimal) ([]decimal.Decimal, error)
	// FeeRate is the fee charged on every trade.
	FeeRate() decimal.Decimal
}

// AskAfter is the quoted price of q's outcome once q has executed, grossed up
// by the fee. Limit prices live on this (0,1) scale, so a buy limit crosses
// the maker while AskAfter stays at or below it.
func AskAfter(m Maker, q BuyQuote) (decimal.Decimal, error) {
	prices, err := m.PricesAt(q.Reserves)
	if err != nil {
		return decimal.Zero, err
	}
	return grossUp(prices[q.Outcome], m.FeeRate()), nil
}

// BidAfter is the quoted price of q's outcome once q has executed, net of
// the fee.
func BidAfter(m Maker, q SellQuote) (decimal.Decimal, error) {
	prices, err := m.PricesAt(q.Reserves)
	if err != nil {
		return decimal.Zero, err
	}
	return roundDown(prices[q.Outcome].Mul(one.Sub(m.FeeRate()))), nil
}

var one = decimal.NewFromInt(1)

// feeOn returns the fee charged on amount at rate, rounded up.
func feeOn(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return roundUp(amount.Mul(rate))
}

// grossUp returns the smallest amount whose post-fee value covers net.
func grossUp(net, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return net
	}
	return divUp(net, one.Sub(rate))
}
