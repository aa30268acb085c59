package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Resolution proposals & challenges
// ──────────────────────────────────────────────────────────────────────────────

// ProposalStatus is the arbitration state of a resolution proposal.
type ProposalStatus string

const (
	ProposalProposed   ProposalStatus = "proposed"
	ProposalChallenged ProposalStatus = "challenged"
	ProposalFinalized  ProposalStatus = "finalized"
)

// IsActive reports whether the proposal still blocks a new proposal.
func (s ProposalStatus) IsActive() bool {
	return s == ProposalProposed || s == ProposalChallenged
}

// ResolutionProposal is a candidate outcome awaiting the end of its
// challenge window.
type ResolutionProposal struct {
	ID             uuid.UUID      `json:"id"                       db:"id"`
	MarketID       uuid.UUID      `json:"market_id"                db:"market_id"`
	Proposer       string         `json:"proposer"                 db:"proposer"`
	Outcome        Outcome        `json:"outcome"                  db:"outcome"`
	Evidence       string         `json:"evidence"                 db:"evidence"`
	WindowEndsAt   time.Time      `json:"challenge_window_ends_at" db:"window_ends_at"`
	ChallengeCount int            `json:"challenge_count"          db:"challenge_count"`
	Status         ProposalStatus `json:"status"                   db:"status"`
	FinalOutcome   *Outcome       `json:"final_outcome"            db:"final_outcome"`
	CreatedAt      time.Time      `json:"created_at"               db:"created_at"`
	FinalizedAt    *time.Time     `json:"finalized_at"             db:"finalized_at"`
}

// WindowOpen reports whether challenges are still accepted at now.
func (p *ResolutionProposal) WindowOpen(now time.Time) bool {
	return now.Before(p.WindowEndsAt)
}

// ResolutionChallenge is one dispute of a proposal. (ProposalID, Challenger)
// is unique.
type ResolutionChallenge struct {
	ID         uuid.UUID `json:"id"          db:"id"`
	ProposalID uuid.UUID `json:"proposal_id" db:"proposal_id"`
	Challenger string    `json:"challenger"  db:"challenger"`
	Reason     string    `json:"reason"      db:"reason"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement ledger
// ──────────────────────────────────────────────────────────────────────────────

// LedgerAction classifies a settlement ledger entry.
type LedgerAction string

const (
	ActionSettleWinner    LedgerAction = "settle_winner"     // payout written by settlement
	ActionSettleLoser     LedgerAction = "settle_loser"      // zero-amount audit record
	ActionClaimed         LedgerAction = "claimed"           // straggler payout written by Claim
	ActionCancelOpenOrder LedgerAction = "cancel_open_order" // escrow returned at resolution
	ActionRefund          LedgerAction = "refund"            // cost basis returned on cancellation
)

// PayoutActions are the entries counted against net deposits.
var PayoutActions = []LedgerAction{ActionSettleWinner, ActionClaimed}

// LedgerEntry is an immutable settlement record. The ledger is the single
// source of truth for whether a user has been paid for a market.
type LedgerEntry struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	MarketID  uuid.UUID       `json:"market_id"  db:"market_id"`
	User      string          `json:"user"       db:"user_address"`
	Action    LedgerAction    `json:"action"     db:"action"`
	Amount    decimal.Decimal `json:"amount"     db:"amount"`
	Details   string          `json:"details"    db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ConservationReport is the result of recomputing a market's payouts from
// the ledger.
type ConservationReport struct {
	MarketID     uuid.UUID       `json:"market_id"`
	NetDeposits  decimal.Decimal `json:"net_deposits"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	WinnerCount  int             `json:"winner_count"`
	Tolerance    decimal.Decimal `json:"tolerance"`
	Holds        bool            `json:"holds"`
	CheckedAt    time.Time       `json:"checked_at"`
	Unsettled    int             `json:"unsettled_positions"`
	SettlementAt *time.Time      `json:"settled_at"`
}
