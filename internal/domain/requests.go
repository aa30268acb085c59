package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Caller is the authenticated identity behind a request. Address is the
// stable, lower-cased identity string supplied by the auth middleware.
type Caller struct {
	Address string
	Admin   bool
}

// NormalizeAddress lower-cases and trims an identity string so that
// checksummed and plain hex addresses compare equal.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validUser(s string) error {
	if NormalizeAddress(s) == "" {
		return newError(ErrValidation, "caller identity is required")
	}
	return nil
}

func positive(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Market creation
// ──────────────────────────────────────────────────────────────────────────────

// CreateMarketRequest describes a new market. Liquidity is debited from the
// creator and seeds the pool (binary) or b = Liquidity/ln(N) (multi).
type CreateMarketRequest struct {
	Caller           Caller
	Kind             MarketKind
	Question         string
	EndTime          time.Time
	Liquidity        decimal.Decimal
	FeeRate          decimal.Decimal
	Options          []string
	OracleSymbol     string
	OracleTarget     decimal.Decimal
	OracleComparator Comparator
	ContractAddress  string
}

// Validate checks the request against now.
func (r *CreateMarketRequest) Validate(now time.Time) error {
	if err := validUser(r.Caller.Address); err != nil {
		return err
	}
	if !r.Kind.IsValid() || strings.TrimSpace(r.Question) == "" || !r.EndTime.After(now) {
		return ErrInvalidMarket
	}
	if err := positive(r.Liquidity); err != nil {
		return err
	}
	if r.FeeRate.IsNegative() || r.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return newError(ErrValidation, "fee rate must be in [0,1)")
	}
	if r.Kind == KindMulti {
		if len(r.Options) < 2 {
			return ErrInvalidMarket
		}
		if r.OracleSymbol != "" {
			return newError(ErrValidation, "oracle rules apply to binary markets only")
		}
	}
	if r.OracleSymbol != "" {
		if r.OracleComparator != ComparatorAbove && r.OracleComparator != ComparatorBelow {
			return newError(ErrValidation, "oracle comparator must be above or below")
		}
		if !r.OracleTarget.IsPositive() {
			return newError(ErrValidation, "oracle target must be positive")
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Trading
// ──────────────────────────────────────────────────────────────────────────────

// TradeRequest is a market order against the AMM. For buys Amount is the
// currency spent and MinOut the minimum shares; for sells Amount is the
// shares sold and MinOut the minimum payout. A zero MinOut disables the guard.
type TradeRequest struct {
	User     string
	MarketID uuid.UUID
	Outcome  Outcome
	Amount   decimal.Decimal
	MinOut   decimal.Decimal
}

// Validate checks field ranges.
func (r *TradeRequest) Validate() error {
	if err := validUser(r.User); err != nil {
		return err
	}
	if r.Outcome < 0 {
		return ErrInvalidOutcome
	}
	if r.MinOut.IsNegative() {
		return ErrInvalidAmount
	}
	return positive(r.Amount)
}

// LiquidityRequest adds currency (Amount) or removes LP shares (Amount).
type LiquidityRequest struct {
	User     string
	MarketID uuid.UUID
	Amount   decimal.Decimal
}

// Validate checks field ranges.
func (r *LiquidityRequest) Validate() error {
	if err := validUser(r.User); err != nil {
		return err
	}
	return positive(r.Amount)
}

// PlaceOrderRequest is a limit order.
type PlaceOrderRequest struct {
	User     string
	MarketID uuid.UUID
	Outcome  Outcome
	Side     Side
	Price    decimal.Decimal
	Amount   decimal.Decimal
}

// Validate checks price ∈ (0,1), a positive amount and a known side.
func (r *PlaceOrderRequest) Validate() error {
	if err := validUser(r.User); err != nil {
		return err
	}
	if !r.Side.IsValid() {
		return ErrInvalidSide
	}
	if r.Outcome < 0 {
		return ErrInvalidOutcome
	}
	if !r.Price.IsPositive() || r.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidPrice
	}
	if r.Price.Exponent() < -Scale || r.Amount.Exponent() < -Scale {
		return newError(ErrValidation, "price and amount are limited to 6 decimal places")
	}
	return positive(r.Amount)
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────────────────────────────────

// ProposeRequest submits a candidate outcome. A zero Window uses the
// configured default.
type ProposeRequest struct {
	Caller   Caller
	MarketID uuid.UUID
	Outcome  Outcome
	Evidence string
	Window   time.Duration
}

// Validate checks the window against maxWindow.
func (r *ProposeRequest) Validate(maxWindow time.Duration) error {
	if err := validUser(r.Caller.Address); err != nil {
		return err
	}
	if r.Outcome < 0 {
		return ErrInvalidOutcome
	}
	if r.Window < 0 || r.Window > maxWindow {
		return ErrInvalidWindow
	}
	return nil
}

// ChallengeRequest disputes a proposal.
type ChallengeRequest struct {
	Caller     Caller
	ProposalID uuid.UUID
	Reason     string
}

// Validate requires a non-empty reason.
func (r *ChallengeRequest) Validate() error {
	if err := validUser(r.Caller.Address); err != nil {
		return err
	}
	if strings.TrimSpace(r.Reason) == "" {
		return ErrReasonRequired
	}
	return nil
}

// FinalizeRequest locks in a proposal. Override is honoured only for an
// admin caller on a challenged proposal.
type FinalizeRequest struct {
	Caller     Caller
	ProposalID uuid.UUID
	Override   *Outcome
}

// Validate checks the override.
func (r *FinalizeRequest) Validate() error {
	if r.Override != nil {
		if !r.Caller.Admin {
			return ErrAdminOnly
		}
		if *r.Override < 0 {
			return ErrInvalidOutcome
		}
	}
	return nil
}

// DepositRequest credits an on-chain transfer.
type DepositRequest struct {
	User   string
	TxHash string
}

// Validate checks the hash shape (0x + 64 hex chars).
func (r *DepositRequest) Validate() error {
	if err := validUser(r.User); err != nil {
		return err
	}
	if !IsTxHash(r.TxHash) {
		return newError(ErrValidation, "invalid transaction hash")
	}
	return nil
}

// IsTxHash reports whether s looks like a 32-byte hex transaction hash.
func IsTxHash(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
