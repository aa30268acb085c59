package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Resolution paths, recorded in metrics and logs.
const (
	PathArbitration = "arbitration"
	PathOracle      = "oracle"
)

// PriceFeed returns the current price of a symbol such as "BTCUSDT".
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ContractVerifier confirms that a transaction was mined against a contract.
type ContractVerifier interface {
	VerifyContractTx(ctx context.Context, txHash, contract string) error
}

// ResolutionService drives the optimistic propose → challenge → finalize
// arbitration flow and the oracle shortcut for price-threshold markets.
type ResolutionService struct {
	base
	feed     PriceFeed
	verifier ContractVerifier
}

// NewResolutionService creates a ResolutionService. The price feed and chain
// verifier are injected with SetPriceFeed and SetVerifier.
func NewResolutionService(store repository.Store, cfg *config.Config, logger *slog.Logger) *ResolutionService {
	return &ResolutionService{base: newBase(store, cfg, logger)}
}

// SetPriceFeed injects the oracle price source.
func (s *ResolutionService) SetPriceFeed(feed PriceFeed) { s.feed = feed }

// SetVerifier injects the on-chain verifier for contract-backed markets.
func (s *ResolutionService) SetVerifier(v ContractVerifier) { s.verifier = v }

// validOutcome checks o against m, loading options for multi markets.
func validOutcome(ctx context.Context, tx repository.Tx, m *domain.Market, o domain.Outcome) error {
	n := 0
	if !m.IsBinary() {
		opts, err := tx.LockOptions(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("lock options: %w", err)
		}
		n = len(opts)
	}
	if !m.ValidOutcome(o, n) {
		return domain.ErrInvalidOutcome
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Propose
// ──────────────────────────────────────────────────────────────────────────────

// Propose submits a candidate outcome for an ended market and opens the
// challenge window. Only the creator or an admin may propose. For
// contract-backed markets the evidence must be a confirmed transaction
// against the market's contract.
func (s *ResolutionService) Propose(ctx context.Context, req domain.ProposeRequest) (*domain.ResolutionProposal, error) {
	if err := req.Validate(s.cfg.Engine.MaxWindow); err != nil {
		return nil, err
	}
	window := req.Window
	if window == 0 {
		window = s.cfg.Engine.DefaultWindow
	}
	caller := domain.NormalizeAddress(req.Caller.Address)

	// The chain is consulted before any lock is taken.
	pre, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.Propose: %w", err)
	}
	if pre.IsContractBacked() {
		if s.verifier == nil {
			return nil, domain.ErrVerificationUnavailable
		}
		if err = s.verifier.VerifyContractTx(ctx, req.Evidence, pre.ContractAddress); err != nil {
			return nil, fmt.Errorf("resolution_service.Propose: verify evidence: %w", err)
		}
	}

	now := s.clock()
	p := &domain.ResolutionProposal{
		ID:           uuid.New(),
		MarketID:     req.MarketID,
		Proposer:     caller,
		Outcome:      req.Outcome,
		Evidence:     req.Evidence,
		WindowEndsAt: now.Add(window),
		Status:       domain.ProposalProposed,
		CreatedAt:    now,
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, req.MarketID)
		if err != nil {
			return fmt.Errorf("lock market: %w", err)
		}
		if m.Status.IsTerminal() {
			return domain.ErrMarketAlreadyResolved
		}
		if !m.HasEnded(now) {
			return domain.ErrMarketNotEnded
		}
		if m.Creator != caller && !req.Caller.Admin {
			return domain.ErrProposeForbidden
		}
		if err = validOutcome(ctx, tx, m, req.Outcome); err != nil {
			return err
		}
		if m.Status == domain.StatusActive {
			m.Status = domain.StatusPendingResolution
			m.UpdatedAt = now
			if err = tx.UpdateMarket(ctx, m); err != nil {
				return fmt.Errorf("update market: %w", err)
			}
		}
		return tx.InsertProposal(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("resolution_service.Propose: %w", err)
	}

	s.logger.Info("resolution proposed",
		"market", p.MarketID, "proposal", p.ID, "outcome", p.Outcome,
		"proposer", caller, "window_ends_at", p.WindowEndsAt)
	return p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Challenge
// ──────────────────────────────────────────────────────────────────────────────

// Challenge disputes an open proposal. Each challenge extends the window to
// at least now + the default window so the dispute can be examined.
func (s *ResolutionService) Challenge(ctx context.Context, req domain.ChallengeRequest) (*domain.ResolutionProposal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	caller := domain.NormalizeAddress(req.Caller.Address)

	// Market before proposal, the same lock order Finalize uses.
	pre, err := s.store.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.Challenge: %w", err)
	}

	now := s.clock()
	var p *domain.ResolutionProposal
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockMarket(ctx, pre.MarketID); err != nil {
			return fmt.Errorf("lock market: %w", err)
		}
		var err error
		if p, err = tx.LockProposal(ctx, req.ProposalID); err != nil {
			return err
		}
		switch {
		case p.Status == domain.ProposalFinalized:
			return domain.ErrProposalFinalized
		case p.Proposer == caller:
			return domain.ErrSelfChallenge
		case !p.WindowOpen(now):
			return domain.ErrChallengeWindowClosed
		case p.ChallengeCount >= s.cfg.Engine.MaxChallenges:
			return domain.ErrChallengeLimitReached
		}

		if err = tx.InsertChallenge(ctx, &domain.ResolutionChallenge{
			ID:         uuid.New(),
			ProposalID: p.ID,
			Challenger: caller,
			Reason:     req.Reason,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		p.ChallengeCount++
		p.Status = domain.ProposalChallenged
		if extended := now.Add(s.cfg.Engine.DefaultWindow); extended.After(p.WindowEndsAt) {
			p.WindowEndsAt = extended
		}
		return tx.UpdateProposal(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("resolution_service.Challenge: %w", err)
	}

	s.logger.Info("resolution challenged",
		"proposal", p.ID, "challenger", caller, "count", p.ChallengeCount,
		"window_ends_at", p.WindowEndsAt)
	return p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Finalize
// ──────────────────────────────────────────────────────────────────────────────

// FinalizeResult is a finalized proposal and the market it resolved.
type FinalizeResult struct {
	Proposal *domain.ResolutionProposal `json:"proposal"`
	Market   *domain.Market             `json:"market"`
	Settled  int                        `json:"settled"`
}

// Finalize locks in a proposal once its window has closed. An admin may
// substitute the outcome of a challenged proposal. Resolution, open-order
// cancellation and the first settlement batch share one transaction.
func (s *ResolutionService) Finalize(ctx context.Context, req domain.FinalizeRequest) (*FinalizeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pre, err := s.store.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.Finalize: %w", err)
	}

	now := s.clock()
	res := &FinalizeResult{}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, pre.MarketID)
		if err != nil {
			return fmt.Errorf("lock market: %w", err)
		}
		p, err := tx.LockProposal(ctx, req.ProposalID)
		if err != nil {
			return err
		}
		if p.Status == domain.ProposalFinalized {
			return domain.ErrProposalFinalized
		}
		if p.WindowOpen(now) {
			return domain.ErrChallengeWindowOpen
		}

		outcome := p.Outcome
		if req.Override != nil {
			if p.Status != domain.ProposalChallenged {
				return domain.ErrOverrideNotAllowed
			}
			if err = validOutcome(ctx, tx, m, *req.Override); err != nil {
				return err
			}
			outcome = *req.Override
		}

		if res.Settled, err = resolveLocked(ctx, tx, m, outcome, s.cfg.Engine.SettlementBatchSize, now); err != nil {
			return err
		}

		p.Status = domain.ProposalFinalized
		p.FinalOutcome = &outcome
		p.FinalizedAt = &now
		if err = tx.UpdateProposal(ctx, p); err != nil {
			return fmt.Errorf("update proposal: %w", err)
		}
		res.Proposal, res.Market = p, m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolution_service.Finalize: %w", err)
	}

	s.metrics.Settled(res.Settled)
	s.marketResolved(res.Market, PathArbitration)
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Oracle resolution
// ──────────────────────────────────────────────────────────────────────────────

// ResolveByOracle resolves an ended market with a price-threshold rule from
// the live feed. It refuses while a proposal is active; the arbitration
// flow owns the market from then on.
func (s *ResolutionService) ResolveByOracle(ctx context.Context, marketID uuid.UUID) (*domain.Market, error) {
	pre, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveByOracle: %w", err)
	}
	if !pre.HasOracle() {
		return nil, domain.ErrNoOracleRule
	}
	if !pre.HasEnded(s.clock()) {
		return nil, domain.ErrMarketNotEnded
	}
	if pre.Status.IsTerminal() {
		return nil, domain.ErrMarketAlreadyResolved
	}
	if s.feed == nil {
		return nil, domain.ErrPriceFeedUnavailable
	}

	// Step 1: observe the price outside any transaction.
	price, err := s.feed.Price(ctx, pre.OracleSymbol)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveByOracle: %w: %w", domain.ErrPriceFeedUnavailable, err)
	}

	// Step 2: resolve under lock.
	now := s.clock()
	var (
		m       *domain.Market
		settled int
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if m, err = tx.LockMarket(ctx, marketID); err != nil {
			return fmt.Errorf("lock market: %w", err)
		}
		_, err = tx.LockActiveProposal(ctx, marketID)
		if err == nil {
			return domain.ErrActiveProposalExists
		}
		if !errors.Is(err, domain.ErrProposalNotFound) {
			return fmt.Errorf("lock active proposal: %w", err)
		}
		settled, err = resolveLocked(ctx, tx, m, m.OracleOutcome(price), s.cfg.Engine.SettlementBatchSize, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveByOracle %s: %w", marketID, err)
	}

	s.logger.Info("oracle observation",
		"market", marketID, "symbol", m.OracleSymbol, "price", price,
		"target", m.OracleTarget, "comparator", m.OracleComparator)
	s.metrics.Settled(settled)
	s.marketResolved(m, PathOracle)
	return m, nil
}

// SweepOracle resolves every ended oracle market with no active proposal.
// A single failing market does NOT abort the others.
func (s *ResolutionService) SweepOracle(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListMarketIDs(ctx, repository.SweepOracleDue, s.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("resolution_service.SweepOracle: list: %w", err)
	}
	resolved := 0
	for _, id := range ids {
		if _, err := s.ResolveByOracle(ctx, id); err != nil {
			if errors.Is(err, domain.ErrActiveProposalExists) {
				continue
			}
			s.logger.Error("oracle resolution", "market", id, "err", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// ProposalView is a proposal with its challenges.
type ProposalView struct {
	*domain.ResolutionProposal
	Challenges []*domain.ResolutionChallenge `json:"challenges"`
	WindowOpen bool                          `json:"window_open"`
	Remaining  time.Duration                 `json:"remaining_ns"`
}

// GetProposal returns a proposal together with its challenges.
func (s *ResolutionService) GetProposal(ctx context.Context, id uuid.UUID) (*ProposalView, error) {
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.GetProposal: %w", err)
	}
	cs, err := s.store.ListChallenges(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.GetProposal: challenges: %w", err)
	}
	now := s.clock()
	v := &ProposalView{ResolutionProposal: p, Challenges: cs, WindowOpen: p.WindowOpen(now)}
	if v.WindowOpen {
		v.Remaining = p.WindowEndsAt.Sub(now)
	}
	return v, nil
}
