package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Error kinds: every domain error unwraps to exactly one of these, so callers
// can branch with errors.Is(err, domain.ErrConflict) without knowing the
// specific sentinel.
// ──────────────────────────────────────────────────────────────────────────────

var (
	// ErrValidation marks malformed or out-of-range input. Raised before any
	// row lock is taken.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown market, order, proposal or position.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate or out-of-order action. Safe to retry
	// after re-reading state.
	ErrConflict = errors.New("conflict")

	// ErrForbidden marks a non-owner or non-admin attempting a privileged action.
	ErrForbidden = errors.New("forbidden")

	// ErrInsufficientLiquidity is returned when a quote would drain or has
	// already drained a reserve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInsufficientBalance is returned when available funds cannot cover
	// an order, trade or deposit reversal.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientShares is returned when a position or LP holding is
	// smaller than the amount being sold, escrowed or burned.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrServiceUnavailable marks an unreachable external collaborator. The
	// engine fails closed on these.
	ErrServiceUnavailable = errors.New("service unavailable")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrConflict,
	ErrForbidden,
	ErrInsufficientLiquidity,
	ErrInsufficientBalance,
	ErrInsufficientShares,
	ErrServiceUnavailable,
}

// kindError is a specific domain error carrying its kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// KindOf returns the kind sentinel err belongs to, or nil for errors that
// did not originate in the domain (driver failures, context cancellation).
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market errors
var (
	// ErrMarketNotFound is returned when no market matches the given id.
	ErrMarketNotFound = newError(ErrNotFound, "market not found")

	// ErrMarketNotActive is returned when trading, liquidity or order
	// placement is attempted on a market that is not in StatusActive.
	ErrMarketNotActive = newError(ErrConflict, "market is not active")

	// ErrMarketExpired is returned when a trade arrives after the market's
	// end time but before the end-of-market sweep moved it out of active.
	ErrMarketExpired = newError(ErrConflict, "market has expired")

	// ErrMarketNotEnded is returned when a resolution is proposed before the
	// market's end time.
	ErrMarketNotEnded = newError(ErrConflict, "market has not ended yet")

	// ErrMarketAlreadyResolved is returned when trying to resolve or cancel
	// a market that is already resolved or cancelled.
	ErrMarketAlreadyResolved = newError(ErrConflict, "market is already resolved")

	// ErrMarketNotResolved is returned by claims on a market with no outcome.
	ErrMarketNotResolved = newError(ErrConflict, "market is not resolved")

	// ErrMultiOutcomeLiquidity is returned for liquidity add/remove on an LMSR
	// market. The N-way cost function is parameterised by b at creation and
	// is not re-scaled afterwards.
	ErrMultiOutcomeLiquidity = newError(ErrValidation, "liquidity changes are not supported on multi-outcome markets")

	// ErrInvalidMarket is returned when a market definition is inconsistent
	// (fewer than two options, empty question, end time in the past).
	ErrInvalidMarket = newError(ErrValidation, "invalid market definition")

	// ErrPoolDrained is returned when a liquidity removal would empty the pool
	// of an active market.
	ErrPoolDrained = newError(ErrInsufficientLiquidity, "removal would drain the pool")
)

// Trade / order errors
var (
	// ErrInvalidAmount is returned when an amount is zero, negative or below
	// the configured minimum.
	ErrInvalidAmount = newError(ErrValidation, "amount must be positive")

	// ErrInvalidOutcome is returned when an outcome index is out of range for
	// the market.
	ErrInvalidOutcome = newError(ErrValidation, "invalid outcome for market")

	// ErrInvalidPrice is returned when a limit price is outside (0,1).
	ErrInvalidPrice = newError(ErrValidation, "limit price must be strictly between 0 and 1")

	// ErrInvalidSide is returned when the order direction is neither buy nor sell.
	ErrInvalidSide = newError(ErrValidation, "order side must be buy or sell")

	// ErrSlippageExceeded is returned when the executed quote is worse than the
	// caller's minimum.
	ErrSlippageExceeded = newError(ErrConflict, "price moved beyond slippage limit")

	// ErrOrderNotFound is returned when no order matches the given id.
	ErrOrderNotFound = newError(ErrNotFound, "order not found")

	// ErrOrderNotOpen is returned when cancelling a filled or cancelled order.
	ErrOrderNotOpen = newError(ErrConflict, "order is not open")

	// ErrNotOrderOwner is returned when a caller cancels someone else's order.
	ErrNotOrderOwner = newError(ErrForbidden, "order belongs to another user")

	// ErrPositionNotFound is returned when the user holds no shares of an outcome.
	ErrPositionNotFound = newError(ErrNotFound, "position not found")

	// ErrLPShareNotFound is returned when the user holds no LP shares in a market.
	ErrLPShareNotFound = newError(ErrNotFound, "liquidity position not found")
)

// Resolution errors
var (
	// ErrProposalNotFound is returned when no proposal matches the given id,
	// or the market has no active proposal.
	ErrProposalNotFound = newError(ErrNotFound, "resolution proposal not found")

	// ErrActiveProposalExists is returned when a second proposal is submitted
	// while one is proposed or challenged.
	ErrActiveProposalExists = newError(ErrConflict, "market already has an active proposal")

	// ErrProposeForbidden is returned when neither the creator nor an admin proposes.
	ErrProposeForbidden = newError(ErrForbidden, "only the market creator or an admin may propose")

	// ErrSelfChallenge is returned when the proposer challenges their own proposal.
	ErrSelfChallenge = newError(ErrForbidden, "proposer cannot challenge their own proposal")

	// ErrDuplicateChallenge is returned when the same address challenges twice.
	ErrDuplicateChallenge = newError(ErrConflict, "challenger already disputed this proposal")

	// ErrChallengeLimitReached is returned once the per-proposal cap is hit.
	ErrChallengeLimitReached = newError(ErrConflict, "challenge limit reached")

	// ErrChallengeWindowClosed is returned for a challenge after the window.
	ErrChallengeWindowClosed = newError(ErrConflict, "challenge window has closed")

	// ErrChallengeWindowOpen is returned when finalizing before the window ends.
	ErrChallengeWindowOpen = newError(ErrConflict, "challenge window is still open")

	// ErrProposalFinalized is returned for any action on a finalized proposal.
	ErrProposalFinalized = newError(ErrConflict, "proposal is already finalized")

	// ErrInvalidWindow is returned when a requested window is not positive or
	// exceeds the configured cap.
	ErrInvalidWindow = newError(ErrValidation, "challenge window out of range")

	// ErrReasonRequired is returned for a challenge without a reason.
	ErrReasonRequired = newError(ErrValidation, "challenge reason is required")

	// ErrNoOracleRule is returned when oracle resolution is requested for a
	// market without a price-threshold rule.
	ErrNoOracleRule = newError(ErrValidation, "market has no oracle rule")

	// ErrOverrideNotAllowed is returned when an admin override targets a
	// proposal that was never challenged.
	ErrOverrideNotAllowed = newError(ErrConflict, "outcome override requires a challenged proposal")

	// ErrAdminOnly is returned when a non-admin calls an administrative action.
	ErrAdminOnly = newError(ErrForbidden, "admin privileges required")
)

// Claim / ledger errors
var (
	// ErrNoWinningPosition is returned by Claim when the caller neither holds a
	// winning position nor has a recorded payout.
	ErrNoWinningPosition = newError(ErrNotFound, "no winning position for this market")

	// ErrLedgerEntryNotFound is returned by ledger lookups with no match.
	ErrLedgerEntryNotFound = newError(ErrNotFound, "ledger entry not found")
)

// Deposit / verification errors
var (
	// ErrVerificationUnavailable is returned when the chain verifier cannot
	// be reached. The engine never assumes success in that case.
	ErrVerificationUnavailable = newError(ErrServiceUnavailable, "on-chain verification unavailable")

	// ErrPriceFeedUnavailable is returned when no price source answered.
	ErrPriceFeedUnavailable = newError(ErrServiceUnavailable, "price feed unavailable")

	// ErrTxNotConfirmed is returned when a transaction is missing, reverted
	// or lacks the required confirmations.
	ErrTxNotConfirmed = newError(ErrValidation, "transaction is not confirmed")

	// ErrTxNoTransfer is returned when a deposit transaction carries no token
	// transfer to the treasury.
	ErrTxNoTransfer = newError(ErrValidation, "transaction contains no transfer to the treasury")

	// ErrDepositDuplicate is returned when a transaction hash was already credited.
	ErrDepositDuplicate = newError(ErrConflict, "deposit already credited")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound returns true when err (or any error in its chain) is a domain
// "not found" error. Use this to translate to HTTP 404.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict returns true for errors that represent a state conflict
// (duplicate action, double resolution, finalizing too early).
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsValidation returns true for malformed input errors.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsForbidden returns true for ownership and role violations.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsInsufficient returns true for unmet economic preconditions.
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientLiquidity) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientShares)
}

// IsAuthError returns true for authentication errors.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenInvalid)
}

// PublicMessage returns the message of the most specific domain error in
// err's chain. Errors that did not originate in the domain yield "".
func PublicMessage(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	if k := KindOf(err); k != nil {
		return k.Error()
	}
	if IsAuthError(err) {
		if errors.Is(err, ErrTokenInvalid) {
			return ErrTokenInvalid.Error()
		}
		return ErrUnauthorized.Error()
	}
	return ""
}
