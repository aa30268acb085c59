// Package domain defines the core business entities and types for the
// prediction market engine: markets, positions, orders, resolutions and the
// settlement ledger.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// Scale is the number of decimal places of the settlement currency. Every
// amount, share count and reserve is truncated to this precision.
const Scale int32 = 6

// MarketKind selects the pricing engine.
type MarketKind string

const (
	KindBinary MarketKind = "binary" // CPMM over YES/NO reserves
	KindMulti  MarketKind = "multi"  // LMSR over N option quantities
)

// IsValid returns true if the kind is recognised.
func (k MarketKind) IsValid() bool {
	return k == KindBinary || k == KindMulti
}

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	StatusActive            MarketStatus = "active"             // trading open
	StatusPendingResolution MarketStatus = "pending_resolution" // ended, awaiting outcome
	StatusResolved          MarketStatus = "resolved"           // outcome locked in
	StatusCancelled         MarketStatus = "cancelled"          // voided; positions refunded
)

// IsTerminal reports whether no further state transition is possible.
func (s MarketStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Outcome is an outcome index. Binary markets use OutcomeYes and OutcomeNo;
// multi-outcome markets use the option index.
type Outcome int

const (
	OutcomeYes Outcome = 0
	OutcomeNo  Outcome = 1
)

// String renders YES/NO for the first two indices and the raw index otherwise.
func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "YES"
	case OutcomeNo:
		return "NO"
	}
	return fmt.Sprintf("option-%d", int(o))
}

// ParseOutcome accepts "YES", "NO" (any case) or a decimal index.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES":
		return OutcomeYes, nil
	case "NO":
		return OutcomeNo, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, ErrInvalidOutcome
	}
	return Outcome(n), nil
}

// Comparator is the direction of an oracle price threshold.
type Comparator string

const (
	ComparatorAbove Comparator = "above" // YES when price >= target
	ComparatorBelow Comparator = "below" // YES when price <= target
)

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market is one prediction market. Binary markets price through YesReserve
// and NoReserve; multi-outcome markets price through their Options and b
// (LiquidityParam).
type Market struct {
	ID             uuid.UUID       `json:"id"              db:"id"`
	Kind           MarketKind      `json:"kind"            db:"kind"`
	Status         MarketStatus    `json:"status"          db:"status"`
	Creator        string          `json:"creator"         db:"creator"`
	Question       string          `json:"question"        db:"question"`
	EndTime        time.Time       `json:"end_time"        db:"end_time"`
	FeeRate        decimal.Decimal `json:"fee_rate"        db:"fee_rate"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	YesReserve     decimal.Decimal `json:"yes_reserve"     db:"yes_reserve"`
	NoReserve      decimal.Decimal `json:"no_reserve"      db:"no_reserve"`
	LiquidityParam decimal.Decimal `json:"liquidity_param" db:"liquidity_param"`
	LPSharesTotal  decimal.Decimal `json:"lp_shares_total" db:"lp_shares_total"`
	BuyVolume      decimal.Decimal `json:"buy_volume"      db:"buy_volume"`
	SellVolume     decimal.Decimal `json:"sell_volume"     db:"sell_volume"`
	FeesCollected  decimal.Decimal `json:"fees_collected"  db:"fees_collected"`

	// Oracle rule; empty OracleSymbol means the market resolves by proposal only.
	OracleSymbol     string          `json:"oracle_symbol,omitempty"     db:"oracle_symbol"`
	OracleTarget     decimal.Decimal `json:"oracle_target"               db:"oracle_target"`
	OracleComparator Comparator      `json:"oracle_comparator,omitempty" db:"oracle_comparator"`

	// ContractAddress is set for markets backed by an external settlement
	// contract; proposals must then carry a confirmed transaction as evidence.
	ContractAddress string `json:"contract_address,omitempty" db:"contract_address"`

	WinningOutcome *Outcome `json:"winning_outcome" db:"winning_outcome"`

	// Settlement snapshot, written once at resolution and used by every
	// payout path afterwards.
	SettleNetDeposits   decimal.Decimal `json:"settle_net_deposits"   db:"settle_net_deposits"`
	SettleWinningShares decimal.Decimal `json:"settle_winning_shares" db:"settle_winning_shares"`

	ResolvedAt *time.Time `json:"resolved_at" db:"resolved_at"`
	SettledAt  *time.Time `json:"settled_at"  db:"settled_at"`
	ArchivedAt *time.Time `json:"archived_at" db:"archived_at"`
	CreatedAt  time.Time  `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"  db:"updated_at"`
}

// IsBinary reports whether the market is priced by the CPMM.
func (m *Market) IsBinary() bool { return m.Kind == KindBinary }

// IsActive reports whether the market accepts trades in its current status.
func (m *Market) IsActive() bool { return m.Status == StatusActive }

// HasEnded reports whether the end time has been reached at now.
func (m *Market) HasEnded(now time.Time) bool { return !now.Before(m.EndTime) }

// HasOracle reports whether the market carries a price-threshold rule.
func (m *Market) HasOracle() bool { return m.OracleSymbol != "" }

// IsContractBacked reports whether resolution evidence must be verified on chain.
func (m *Market) IsContractBacked() bool { return m.ContractAddress != "" }

// NetDeposits is buy volume minus sell volume, clamped at zero.
func (m *Market) NetDeposits() decimal.Decimal {
	net := m.BuyVolume.Sub(m.SellVolume)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// CheckTradable returns the error a trade should fail with, or nil.
func (m *Market) CheckTradable(now time.Time) error {
	if !m.IsActive() {
		return ErrMarketNotActive
	}
	if m.HasEnded(now) {
		return ErrMarketExpired
	}
	return nil
}

// ValidOutcome reports whether o indexes an outcome of a market with
// optionCount options (ignored for binary markets).
func (m *Market) ValidOutcome(o Outcome, optionCount int) bool {
	if m.IsBinary() {
		return o == OutcomeYes || o == OutcomeNo
	}
	return o >= 0 && int(o) < optionCount
}

// OracleOutcome maps an observed price to the outcome the oracle rule selects.
func (m *Market) OracleOutcome(price decimal.Decimal) Outcome {
	var crossed bool
	switch m.OracleComparator {
	case ComparatorBelow:
		crossed = price.LessThanOrEqual(m.OracleTarget)
	default:
		crossed = price.GreaterThanOrEqual(m.OracleTarget)
	}
	if crossed {
		return OutcomeYes
	}
	return OutcomeNo
}

// ──────────────────────────────────────────────────────────────────────────────
// Option (multi-outcome markets)
// ──────────────────────────────────────────────────────────────────────────────

// Option is one outcome of a multi-outcome market. Reserve holds the LMSR
// outstanding quantity q_i.
type Option struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	MarketID  uuid.UUID       `json:"market_id"  db:"market_id"`
	Index     int             `json:"index"      db:"idx"`
	Label     string          `json:"label"      db:"label"`
	Reserve   decimal.Decimal `json:"reserve"    db:"reserve"`
	Price     decimal.Decimal `json:"price"      db:"price"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketView: read model for API responses
// ──────────────────────────────────────────────────────────────────────────────

// MarketView is a market together with its current prices and options.
type MarketView struct {
	*Market
	Prices  []decimal.Decimal `json:"prices"`
	Options []*Option         `json:"options,omitempty"`
}
