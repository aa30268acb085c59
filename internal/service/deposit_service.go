package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/shopspring/decimal"
)

// DepositVerifier decodes the treasury transfers of a confirmed transaction.
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, txHash, sender string) (decimal.Decimal, error)
}

// DepositService credits on-chain token transfers to user balances.
type DepositService struct {
	base
	verifier DepositVerifier
}

// NewDepositService creates a DepositService. A nil verifier makes every
// deposit fail with ErrVerificationUnavailable.
func NewDepositService(store repository.Store, cfg *config.Config, logger *slog.Logger, verifier DepositVerifier) *DepositService {
	return &DepositService{base: newBase(store, cfg, logger), verifier: verifier}
}

// Deposit verifies req.TxHash on chain and credits the transferred amount to
// req.User once. A replayed hash fails with ErrDepositDuplicate.
func (s *DepositService) Deposit(ctx context.Context, req domain.DepositRequest) (*domain.Deposit, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.verifier == nil {
		return nil, domain.ErrVerificationUnavailable
	}
	user := domain.NormalizeAddress(req.User)
	hash := strings.ToLower(strings.TrimSpace(req.TxHash))

	amount, err := s.verifier.VerifyDeposit(ctx, hash, user)
	if err != nil {
		return nil, fmt.Errorf("deposit_service.Deposit: verify: %w", err)
	}

	now := s.clock()
	d := &domain.Deposit{TxHash: hash, User: user, Amount: amount, CreatedAt: now}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertDeposit(ctx, d); err != nil {
			return err
		}
		return credit(ctx, tx, user, amount, now)
	})
	if err != nil {
		return nil, fmt.Errorf("deposit_service.Deposit: %w", err)
	}

	s.logger.Info("deposit credited", "user", user, "tx", hash, "amount", amount)
	return d, nil
}
