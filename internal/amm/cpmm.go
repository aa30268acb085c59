package amm

import (
	"github.com/evetabi/predex/internal/domain"
	"github.com/shopspring/decimal"
)

// Binary outcome indices.
const (
	Yes = 0
	No  = 1
)

// CPMM is a constant-product maker over YES/NO reserves. The quoted price
// of a side is the other side's reserve over the total, so the two prices
// sum to 1 at every reserve state.
type CPMM struct {
	yes decimal.Decimal
	no  decimal.Decimal
	fee decimal.Decimal
}

// NewCPMM builds a pool from reserves and a fee rate in [0,1).
func NewCPMM(yes, no, feeRate decimal.Decimal) *CPMM {
	return &CPMM{yes: yes, no: no, fee: feeRate}
}

// Reserves returns (R_yes, R_no).
func (p *CPMM) Reserves() (decimal.Decimal, decimal.Decimal) { return p.yes, p.no }

// K is the invariant R_yes · R_no.
func (p *CPMM) K() decimal.Decimal { return p.yes.Mul(p.no) }

// Outcomes implements Maker.
func (p *CPMM) Outcomes() int { return 2 }

// FeeRate implements Maker.
func (p *CPMM) FeeRate() decimal.Decimal { return p.fee }

// PricesAt implements Maker for reserves [R_yes, R_no].
func (p *CPMM) PricesAt(reserves []decimal.Decimal) ([]decimal.Decimal, error) {
	if len(reserves) != 2 {
		return nil, domain.ErrInvalidOutcome
	}
	return NewCPMM(reserves[Yes], reserves[No], p.fee).Prices()
}

func (p *CPMM) check() error {
	if !p.yes.IsPositive() || !p.no.IsPositive() {
		return domain.ErrInsufficientLiquidity
	}
	return nil
}

// Prices returns [price_yes, price_no]. price_no is derived as 1 − price_yes
// so the pair sums to exactly 1 after rounding.
func (p *CPMM) Prices() ([]decimal.Decimal, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	yes := p.no.DivRound(p.yes.Add(p.no), domain.Scale)
	return []decimal.Decimal{yes, one.Sub(yes)}, nil
}

// sides returns (traded reserve, opposite reserve) for outcome.
func (p *CPMM) sides(outcome int) (decimal.Decimal, decimal.Decimal, error) {
	switch outcome {
	case Yes:
		return p.yes, p.no, nil
	case No:
		return p.no, p.yes, nil
	}
	return decimal.Zero, decimal.Zero, domain.ErrInvalidOutcome
}

func reserves(outcome int, side, other decimal.Decimal) []decimal.Decimal {
	if outcome == Yes {
		return []decimal.Decimal{side, other}
	}
	return []decimal.Decimal{other, side}
}

// QuoteBuy prices spending amountIn on outcome. The fee comes off the input;
// the remainder is added to the opposite reserve and the traded reserve is
// re-solved from the invariant. The shares out are the traded reserve's drop.
//
// The new traded reserve is rounded up, so k never decreases.
func (p *CPMM) QuoteBuy(outcome int, amountIn decimal.Decimal) (BuyQuote, error) {
	if !amountIn.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}
	if err := p.check(); err != nil {
		return BuyQuote{}, err
	}
	side, other, err := p.sides(outcome)
	if err != nil {
		return BuyQuote{}, err
	}

	fee := feeOn(amountIn, p.fee)
	effective := amountIn.Sub(fee)
	if !effective.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}

	k := side.Mul(other)
	newOther := other.Add(effective)
	newSide := divUp(k, newOther)
	shares := side.Sub(newSide)
	if !shares.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}

	return BuyQuote{
		Outcome:   outcome,
		AmountIn:  amountIn,
		Fee:       fee,
		SharesOut: shares,
		AvgPrice:  divUp(amountIn, shares),
		Reserves:  reserves(outcome, newSide, newOther),
	}, nil
}

// QuoteBuyShares prices receiving exactly shares of outcome. Used when a
// limit order fills its remainder against the pool.
func (p *CPMM) QuoteBuyShares(outcome int, shares decimal.Decimal) (BuyQuote, error) {
	if !shares.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}
	if err := p.check(); err != nil {
		return BuyQuote{}, err
	}
	side, other, err := p.sides(outcome)
	if err != nil {
		return BuyQuote{}, err
	}

	newSide := side.Sub(shares)
	if !newSide.IsPositive() {
		return BuyQuote{}, domain.ErrInsufficientLiquidity
	}
	k := side.Mul(other)
	newOther := divUp(k, newSide)
	effective := newOther.Sub(other)
	amountIn := grossUp(effective, p.fee)

	return BuyQuote{
		Outcome:   outcome,
		AmountIn:  amountIn,
		Fee:       amountIn.Sub(effective),
		SharesOut: shares,
		AvgPrice:  divUp(amountIn, shares),
		Reserves:  reserves(outcome, newSide, newOther),
	}, nil
}

// QuoteSell prices selling sharesIn of outcome. The shares are added to the
// traded reserve, the opposite reserve is re-solved from the invariant, and
// the fee is taken from the payout rather than the input.
func (p *CPMM) QuoteSell(outcome int, sharesIn decimal.Decimal) (SellQuote, error) {
	if !sharesIn.IsPositive() {
		return SellQuote{}, domain.ErrInvalidAmount
	}
	if err := p.check(); err != nil {
		return SellQuote{}, err
	}
	side, other, err := p.sides(outcome)
	if err != nil {
		return SellQuote{}, err
	}

	k := side.Mul(other)
	newSide := side.Add(sharesIn)
	newOther := divUp(k, newSide)
	gross := other.Sub(newOther)
	if !gross.IsPositive() {
		return SellQuote{}, domain.ErrInvalidAmount
	}
	fee := feeOn(gross, p.fee)
	payout := gross.Sub(fee)

	return SellQuote{
		Outcome:  outcome,
		SharesIn: sharesIn,
		Gross:    gross,
		Fee:      fee,
		Payout:   payout,
		AvgPrice: divDown(payout, sharesIn),
		Reserves: reserves(outcome, newSide, newOther),
	}, nil
}

func roundUp(d decimal.Decimal) decimal.Decimal   { return d.RoundUp(domain.Scale) }
func roundDown(d decimal.Decimal) decimal.Decimal { return d.RoundDown(domain.Scale) }
func divUp(a, b decimal.Decimal) decimal.Decimal  { return domain.DivUp(a, b) }
func divDown(a, b decimal.Decimal) decimal.Decimal {
	return domain.DivDown(a, b)
}
