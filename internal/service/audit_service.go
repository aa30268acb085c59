package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditService recomputes settlement totals from the ledger. It reports,
// it never corrects.
type AuditService struct {
	base
}

// NewAuditService creates an AuditService.
func NewAuditService(store repository.Store, cfg *config.Config, logger *slog.Logger) *AuditService {
	return &AuditService{base: newBase(store, cfg, logger)}
}

// VerifyConservation checks that everything paid for a resolved market
// (settle_winner + claimed) stays within the net deposits snapshot plus the
// configured tolerance.
func (s *AuditService) VerifyConservation(ctx context.Context, marketID uuid.UUID) (*domain.ConservationReport, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("audit_service.VerifyConservation: %w", err)
	}
	if m.Status != domain.StatusResolved {
		return nil, domain.ErrMarketNotResolved
	}

	var (
		paid    decimal.Decimal
		winners int
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		paid, winners, err = tx.SumLedger(ctx, marketID, domain.PayoutActions...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit_service.VerifyConservation: sum ledger: %w", err)
	}
	unsettled, err := s.store.CountPositions(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("audit_service.VerifyConservation: count positions: %w", err)
	}

	tolerance := s.decimalCfg(s.cfg.Engine.ConservationTolerance)
	report := &domain.ConservationReport{
		MarketID:     marketID,
		NetDeposits:  m.SettleNetDeposits,
		TotalPaid:    paid,
		WinnerCount:  winners,
		Tolerance:    tolerance,
		Holds:        paid.LessThanOrEqual(m.SettleNetDeposits.Add(tolerance)),
		CheckedAt:    s.clock(),
		Unsettled:    unsettled,
		SettlementAt: m.SettledAt,
	}

	if !report.Holds {
		s.metrics.ConservationViolation()
		s.logger.Error("conservation violated",
			"market", marketID, "net_deposits", report.NetDeposits,
			"total_paid", report.TotalPaid, "winners", winners)
	}
	return report, nil
}

// SweepAudit re-verifies the most recent resolved markets and returns the
// number of violations found.
func (s *AuditService) SweepAudit(ctx context.Context, limit int) (int, error) {
	markets, err := s.store.ListMarkets(ctx, repository.MarketFilter{Status: domain.StatusResolved, Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("audit_service.SweepAudit: list: %w", err)
	}
	violations := 0
	for _, m := range markets {
		r, err := s.VerifyConservation(ctx, m.ID)
		if err != nil {
			s.logger.Error("audit market", "market", m.ID, "err", err)
			continue
		}
		if !r.Holds {
			violations++
		}
	}
	return violations, nil
}
