package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimResult reports what a claim paid. AlreadyPaid is set when the payout
// had been recorded earlier, by settlement or a previous claim.
type ClaimResult struct {
	MarketID    uuid.UUID           `json:"market_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Action      domain.LedgerAction `json:"action"`
	AlreadyPaid bool                `json:"already_paid"`
}

// ClaimService pays winners that settlement has not reached yet. The ledger
// decides whether a user has been paid, so a claim racing the settlement
// keeper pays exactly once.
type ClaimService struct {
	base
}

// NewClaimService creates a ClaimService.
func NewClaimService(store repository.Store, cfg *config.Config, logger *slog.Logger) *ClaimService {
	return &ClaimService{base: newBase(store, cfg, logger)}
}

// Claim pays user's winning position in a resolved market from the
// resolution snapshot. It is idempotent: repeated calls return the amount
// already paid without crediting again.
func (s *ClaimService) Claim(ctx context.Context, user string, marketID uuid.UUID) (*ClaimResult, error) {
	user = domain.NormalizeAddress(user)
	if user == "" {
		return nil, domain.ErrUnauthorized
	}
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("claim_service.Claim: %w", err)
	}
	if m.Status != domain.StatusResolved || m.WinningOutcome == nil {
		return nil, domain.ErrMarketNotResolved
	}
	winner := *m.WinningOutcome

	now := s.clock()
	res := &ClaimResult{MarketID: marketID}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		// Serialises claims of one user on one market even when no position
		// row is left to lock.
		if err := tx.AdvisoryLock(ctx, "claim:"+marketID.String()+":"+user); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		// Lock the position before reading the ledger: a settlement batch
		// that paid this user has deleted the row and written the entry.
		p, err := tx.LockPosition(ctx, user, marketID, winner)
		if err != nil && !errors.Is(err, domain.ErrPositionNotFound) {
			return fmt.Errorf("lock position: %w", err)
		}

		for _, action := range domain.PayoutActions {
			e, err := tx.FindLedger(ctx, marketID, user, action)
			if err == nil {
				res.Amount, res.Action, res.AlreadyPaid = e.Amount, e.Action, true
				return nil
			}
			if !errors.Is(err, domain.ErrLedgerEntryNotFound) {
				return fmt.Errorf("find ledger: %w", err)
			}
		}

		if p == nil || !p.Shares.IsPositive() {
			return domain.ErrNoWinningPosition
		}

		amount := domain.ProRataPayout(p.Shares, m.SettleWinningShares, m.SettleNetDeposits)
		if err = credit(ctx, tx, user, amount, now); err != nil {
			return err
		}
		details := fmt.Sprintf("%s shares of %s", p.Shares, p.Outcome)
		if err = appendLedger(ctx, tx, marketID, user, domain.ActionClaimed, amount, details, now); err != nil {
			return err
		}
		if err = tx.DeletePosition(ctx, user, marketID, winner); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
		res.Amount, res.Action = amount, domain.ActionClaimed
		return nil
	})
	if err != nil {
		s.metrics.Claim("error")
		return nil, fmt.Errorf("claim_service.Claim: %w", err)
	}

	if res.AlreadyPaid {
		s.metrics.Claim("already_paid")
	} else {
		s.metrics.Claim("paid")
		s.logger.Info("winnings claimed", "market", marketID, "user", user, "amount", res.Amount)
	}
	return res, nil
}
