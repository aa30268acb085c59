// Package repository defines the persistence contract of the engine. A Store
// runs every mutating operation inside one transaction (WithTx); the Tx
// methods prefixed Lock acquire row locks before returning the row, so
// values read through them may be used in calculations.
//
// Implementations: repository/postgres (sqlx + lib/pq) for production and
// repository/memory for tests and single-process development.
package repository

import (
	"context"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the transactional entry point plus non-locking reads.
type Store interface {
	Reader

	// WithTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; a rollback leaves no trace.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// MarketFilter narrows ListMarkets.
type MarketFilter struct {
	Status domain.MarketStatus // "" = any
	Limit  int
	Offset int
}

// Sweep names a background selection of market ids.
type Sweep int

const (
	SweepEnded          Sweep = iota // active, end_time <= now
	SweepOracleDue                   // pending_resolution with an oracle rule
	SweepUnsettled                   // resolved, settled_at IS NULL
	SweepRestingOrders               // active with open or partial orders
	SweepUnarchived                  // resolved+settled or cancelled, archived_at IS NULL
)

// Reader holds reads that take no locks. Their results are for display
// and for choosing work; they must be re-read under lock before use.
type Reader interface {
	GetMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]*domain.Market, error)
	ListOptions(ctx context.Context, marketID uuid.UUID) ([]*domain.Option, error)
	ListMarketIDs(ctx context.Context, sweep Sweep, now time.Time, limit int) ([]uuid.UUID, error)

	GetBalance(ctx context.Context, user string) (*domain.Balance, error)
	ListPositions(ctx context.Context, user string) ([]*domain.Position, error)
	CountPositions(ctx context.Context, marketID uuid.UUID) (int, error)
	ListRestingOrders(ctx context.Context, marketID uuid.UUID) ([]*domain.Order, error)

	GetProposal(ctx context.Context, id uuid.UUID) (*domain.ResolutionProposal, error)
	ListChallenges(ctx context.Context, proposalID uuid.UUID) ([]*domain.ResolutionChallenge, error)

	ListLedger(ctx context.Context, marketID uuid.UUID) ([]*domain.LedgerEntry, error)
}

// Tx is the set of operations available inside WithTx.
type Tx interface {
	// AdvisoryLock takes a transaction-scoped lock on key. Used where the
	// rows to lock may not exist yet.
	AdvisoryLock(ctx context.Context, key string) error

	// Markets & options
	LockMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error)
	InsertMarket(ctx context.Context, m *domain.Market) error
	UpdateMarket(ctx context.Context, m *domain.Market) error
	LockOptions(ctx context.Context, marketID uuid.UUID) ([]*domain.Option, error)
	InsertOption(ctx context.Context, o *domain.Option) error
	UpdateOption(ctx context.Context, o *domain.Option) error

	// Balances; LockBalance creates a zero row on first use.
	LockBalance(ctx context.Context, user string) (*domain.Balance, error)
	UpdateBalance(ctx context.Context, b *domain.Balance) error

	// Positions
	LockPosition(ctx context.Context, user string, marketID uuid.UUID, outcome domain.Outcome) (*domain.Position, error)
	LockMarketPositions(ctx context.Context, marketID uuid.UUID, limit int) ([]*domain.Position, error)
	SavePosition(ctx context.Context, p *domain.Position) error
	DeletePosition(ctx context.Context, user string, marketID uuid.UUID, outcome domain.Outcome) error

	// Orders
	InsertOrder(ctx context.Context, o *domain.Order) error
	UpdateOrder(ctx context.Context, o *domain.Order) error
	LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	LockRestingOrders(ctx context.Context, marketID uuid.UUID) ([]*domain.Order, error)
	// LockMatchCandidates returns resting orders on the other side of
	// incoming that cross its limit, best price first then oldest first.
	LockMatchCandidates(ctx context.Context, incoming *domain.Order) ([]*domain.Order, error)

	// LP shares
	LockLPShare(ctx context.Context, user string, marketID uuid.UUID) (*domain.LPShare, error)
	LockMarketLPShares(ctx context.Context, marketID uuid.UUID) ([]*domain.LPShare, error)
	SaveLPShare(ctx context.Context, s *domain.LPShare) error
	DeleteLPShare(ctx context.Context, user string, marketID uuid.UUID) error

	// Resolution
	LockActiveProposal(ctx context.Context, marketID uuid.UUID) (*domain.ResolutionProposal, error)
	LockProposal(ctx context.Context, id uuid.UUID) (*domain.ResolutionProposal, error)
	InsertProposal(ctx context.Context, p *domain.ResolutionProposal) error
	UpdateProposal(ctx context.Context, p *domain.ResolutionProposal) error
	InsertChallenge(ctx context.Context, c *domain.ResolutionChallenge) error

	// Ledger
	AppendLedger(ctx context.Context, e *domain.LedgerEntry) error
	FindLedger(ctx context.Context, marketID uuid.UUID, user string, action domain.LedgerAction) (*domain.LedgerEntry, error)
	SumLedger(ctx context.Context, marketID uuid.UUID, actions ...domain.LedgerAction) (decimal.Decimal, int, error)

	// Deposits
	InsertDeposit(ctx context.Context, d *domain.Deposit) error
}
