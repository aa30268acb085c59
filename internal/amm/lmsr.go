package amm

import (
	"math"

	"github.com/evetabi/predex/internal/domain"
	"github.com/shopspring/decimal"
)

// LMSR is a logarithmic market scoring rule maker over N outcomes.
//
//	C(q)    = b · ln Σ exp(q_j / b)
//	price_i = exp(q_i / b) / Σ exp(q_j / b)
//
// Every exponential is shifted by max(q)/b before evaluation (log-sum-exp),
// so large quantities never overflow.
//
// Fees follow the CPMM rule: buys pay the fee on the currency entering the
// cost function, sells pay it on the currency leaving it.
type LMSR struct {
	q   []float64
	qd  []decimal.Decimal
	b   float64
	bd  decimal.Decimal
	fee decimal.Decimal
}

// LiquidityParam returns b for a subsidy of liquidity over n outcomes:
// b = liquidity / ln(n), which bounds the maker's worst-case loss at liquidity.
func LiquidityParam(liquidity decimal.Decimal, n int) decimal.Decimal {
	if n < 2 {
		return decimal.Zero
	}
	return liquidity.Div(decimal.NewFromFloat(math.Log(float64(n)))).RoundDown(domain.Scale)
}

// NewLMSR builds a maker from outstanding quantities, b and a fee rate.
func NewLMSR(quantities []decimal.Decimal, b, feeRate decimal.Decimal) (*LMSR, error) {
	if len(quantities) < 2 || !b.IsPositive() {
		return nil, domain.ErrInsufficientLiquidity
	}
	m := &LMSR{
		q:   make([]float64, len(quantities)),
		qd:  append([]decimal.Decimal(nil), quantities...),
		b:   b.InexactFloat64(),
		bd:  b,
		fee: feeRate,
	}
	for i, v := range quantities {
		m.q[i] = v.InexactFloat64()
	}
	return m, nil
}

// Outcomes implements Maker.
func (m *LMSR) Outcomes() int { return len(m.q) }

// FeeRate implements Maker.
func (m *LMSR) FeeRate() decimal.Decimal { return m.fee }

// PricesAt implements Maker for outstanding quantities.
func (m *LMSR) PricesAt(quantities []decimal.Decimal) ([]decimal.Decimal, error) {
	if len(quantities) != len(m.q) {
		return nil, domain.ErrInvalidOutcome
	}
	next, err := NewLMSR(quantities, m.bd, m.fee)
	if err != nil {
		return nil, err
	}
	return next.Prices()
}

// Cost returns C(q) for the current state.
func (m *LMSR) Cost() float64 { return m.cost(m.q) }

func (m *LMSR) cost(q []float64) float64 {
	mx := maxOf(q) / m.b
	var sum float64
	for _, v := range q {
		sum += math.Exp(v/m.b - mx)
	}
	return m.b * (mx + math.Log(sum))
}

func (m *LMSR) softmax() []float64 {
	mx := maxOf(m.q) / m.b
	out := make([]float64, len(m.q))
	var sum float64
	for i, v := range m.q {
		out[i] = math.Exp(v/m.b - mx)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Prices returns softmax(q/b) rounded to the currency scale. The rounding
// residual is folded into the largest price so the vector sums to exactly 1.
func (m *LMSR) Prices() ([]decimal.Decimal, error) {
	raw := m.softmax()
	out := make([]decimal.Decimal, len(raw))
	sum := decimal.Zero
	largest := 0
	for i, p := range raw {
		out[i] = decimal.NewFromFloat(p).Round(domain.Scale)
		sum = sum.Add(out[i])
		if raw[i] > raw[largest] {
			largest = i
		}
	}
	out[largest] = out[largest].Add(one.Sub(sum))
	return out, nil
}

func (m *LMSR) valid(outcome int) error {
	if outcome < 0 || outcome >= len(m.q) {
		return domain.ErrInvalidOutcome
	}
	return nil
}

func (m *LMSR) withDelta(outcome int, delta decimal.Decimal) []decimal.Decimal {
	next := append([]decimal.Decimal(nil), m.qd...)
	next[outcome] = next[outcome].Add(delta)
	return next
}

// QuoteBuy prices spending amountIn on outcome. After the fee, the purchase
// solves C(q') = C(q) + effective for q'_i in closed form:
//
//	q'_i = b · ln( exp((C+effective)/b) − Σ_{j≠i} exp(q_j/b) )
//
// evaluated in the shifted log domain.
func (m *LMSR) QuoteBuy(outcome int, amountIn decimal.Decimal) (BuyQuote, error) {
	if !amountIn.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}
	if err := m.valid(outcome); err != nil {
		return BuyQuote{}, err
	}
	fee := feeOn(amountIn, m.fee)
	effective := amountIn.Sub(fee)
	if !effective.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}

	mx := maxOf(m.q) / m.b
	var total, others float64
	for j, v := range m.q {
		e := math.Exp(v/m.b - mx)
		total += e
		if j != outcome {
			others += e
		}
	}
	// t = (C + effective)/b − max(q)/b
	t := math.Log(total) + effective.InexactFloat64()/m.b
	// ln(exp(t) − others) = t + log1p(−others·exp(−t))
	inner := -others * math.Exp(-t)
	if inner <= -1 {
		return BuyQuote{}, domain.ErrInsufficientLiquidity
	}
	newQi := m.b * (mx + t + math.Log1p(inner))
	delta := newQi - m.q[outcome]
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return BuyQuote{}, domain.ErrInsufficientLiquidity
	}
	shares := roundDown(decimal.NewFromFloat(delta))
	if !shares.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}

	return BuyQuote{
		Outcome:   outcome,
		AmountIn:  amountIn,
		Fee:       fee,
		SharesOut: shares,
		AvgPrice:  divUp(amountIn, shares),
		Reserves:  m.withDelta(outcome, shares),
	}, nil
}

// QuoteBuyShares prices acquiring exactly shares of outcome:
// cost = C(q + Δe_i) − C(q), rounded up, then grossed up by the fee.
func (m *LMSR) QuoteBuyShares(outcome int, shares decimal.Decimal) (BuyQuote, error) {
	if !shares.IsPositive() {
		return BuyQuote{}, domain.ErrInvalidAmount
	}
	if err := m.valid(outcome); err != nil {
		return BuyQuote{}, err
	}
	next := append([]float64(nil), m.q...)
	next[outcome] += shares.InexactFloat64()
	delta := m.cost(next) - m.cost(m.q)
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return BuyQuote{}, domain.ErrInsufficientLiquidity
	}
	effective := roundUp(decimal.NewFromFloat(delta))
	if !effective.IsPositive() {
		effective = domain.Unit
	}
	amountIn := grossUp(effective, m.fee)

	return BuyQuote{
		Outcome:   outcome,
		AmountIn:  amountIn,
		Fee:       amountIn.Sub(effective),
		SharesOut: shares,
		AvgPrice:  divUp(amountIn, shares),
		Reserves:  m.withDelta(outcome, shares),
	}, nil
}

// QuoteSell prices selling sharesIn of outcome: gross = C(q) − C(q − Δe_i),
// rounded down, with the fee taken from the payout.
func (m *LMSR) QuoteSell(outcome int, sharesIn decimal.Decimal) (SellQuote, error) {
	if !sharesIn.IsPositive() {
		return SellQuote{}, domain.ErrInvalidAmount
	}
	if err := m.valid(outcome); err != nil {
		return SellQuote{}, err
	}
	next := append([]float64(nil), m.q...)
	next[outcome] -= sharesIn.InexactFloat64()
	delta := m.cost(m.q) - m.cost(next)
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return SellQuote{}, domain.ErrInsufficientLiquidity
	}
	gross := roundDown(decimal.NewFromFloat(delta))
	if !gross.IsPositive() {
		return SellQuote{}, domain.ErrInvalidAmount
	}
	fee := feeOn(gross, m.fee)
	payout := gross.Sub(fee)

	return SellQuote{
		Outcome:  outcome,
		SharesIn: sharesIn,
		Gross:    gross,
		Fee:      fee,
		Payout:   payout,
		AvgPrice: divDown(payout, sharesIn),
		Reserves: m.withDelta(outcome, sharesIn.Neg()),
	}, nil
}

func maxOf(v []float64) float64 {
	mx := v[0]
	for _, x := range v[1:] {
		if x > mx {
			mx = x
		}
	}
	return mx
}
