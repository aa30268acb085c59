package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
)

// AccountService serves a user's balance and positions, and the per-market
// ledger for the back office.
type AccountService struct {
	base
}

// NewAccountService creates an AccountService.
func NewAccountService(store repository.Store, cfg *config.Config, logger *slog.Logger) *AccountService {
	return &AccountService{base: newBase(store, cfg, logger)}
}

// Balance returns the user's balance; a user never seen has a zero balance.
func (s *AccountService) Balance(ctx context.Context, user string) (*domain.Balance, error) {
	user = domain.NormalizeAddress(user)
	b, err := s.store.GetBalance(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("account_service.Balance: %w", err)
	}
	return b, nil
}

// Positions lists the user's open positions across markets.
func (s *AccountService) Positions(ctx context.Context, user string) ([]*domain.Position, error) {
	user = domain.NormalizeAddress(user)
	ps, err := s.store.ListPositions(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("account_service.Positions: %w", err)
	}
	if ps == nil {
		ps = []*domain.Position{}
	}
	return ps, nil
}

// Ledger lists every payout and refund recorded for a market.
func (s *AccountService) Ledger(ctx context.Context, marketID uuid.UUID) ([]*domain.LedgerEntry, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, fmt.Errorf("account_service.Ledger: %w", err)
	}
	entries, err := s.store.ListLedger(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("account_service.Ledger: %w", err)
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}
	return entries, nil
}
