// Package postgres implements repository.Store on PostgreSQL with sqlx and
// lib/pq. Every Lock* method issues SELECT … FOR UPDATE inside the caller's
// transaction; claims additionally use pg_advisory_xact_lock.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	orderCols  = `id, market_id, user_address, outcome, side, price, amount, filled, status, created_at, updated_at`
	ledgerCols = `id, market_id, user_address, action, amount, details, created_at`
)

// Store implements repository.Store.
type Store struct {
	db *sqlx.DB
}

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

var _ repository.Store = (*Store)(nil)

// Migrate executes the embedded *.sql files in name order. The files are
// idempotent (IF NOT EXISTS), so Migrate runs on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("postgres.Migrate: read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := migrations.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("postgres.Migrate: read %q: %w", f, err)
		}
		if _, err = db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("postgres.Migrate: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", f)
	}
	return nil
}

// WithTx implements repository.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres.WithTx: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapErr("postgres.WithTx: commit", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Error mapping
// ──────────────────────────────────────────────────────────────────────────────

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// mapErr wraps err with op, translating unique violations, serialization
// failures and deadlocks to domain.ErrConflict.
func mapErr(op string, err error) error {
	switch pqCode(err) {
	case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%s: %w (%v)", op, domain.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reader
// ──────────────────────────────────────────────────────────────────────────────

// GetMarket implements repository.Reader.
func (s *Store) GetMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := s.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("postgres.GetMarket: %w", err)
	}
	return &m, nil
}

// ListMarkets implements repository.Reader.
func (s *Store) ListMarkets(ctx context.Context, f repository.MarketFilter) ([]*domain.Market, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	markets := []*domain.Market{}
	var err error
	if f.Status != "" {
		err = s.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets WHERE status = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
			f.Status, limit, f.Offset)
	} else {
		err = s.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
			limit, f.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.ListMarkets: %w", err)
	}
	return markets, nil
}

// ListOptions implements repository.Reader.
func (s *Store) ListOptions(ctx context.Context, marketID uuid.UUID) ([]*domain.Option, error) {
	var opts []*domain.Option
	if err := s.db.SelectContext(ctx, &opts,
		`SELECT * FROM market_options WHERE market_id = $1 ORDER BY idx`, marketID); err != nil {
		return nil, fmt.Errorf("postgres.ListOptions: %w", err)
	}
	return opts, nil
}

// ListMarketIDs implements repository.Reader.
func (s *Store) ListMarketIDs(ctx context.Context, sweep repository.Sweep, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		where string
		args  []any
	)
	switch sweep {
	case repository.SweepEnded:
		where, args = `status = 'active' AND end_time <= $2`, []any{limit, now}
	case repository.SweepOracleDue:
		where, args = `status = 'pending_resolution' AND oracle_symbol <> ''`, []any{limit}
	case repository.SweepUnsettled:
		where, args = `status = 'resolved' AND settled_at IS NULL`, []any{limit}
	case repository.SweepRestingOrders:
		where = `status = 'active' AND EXISTS (
			SELECT 1 FROM orders o WHERE o.market_id = markets.id AND o.status IN ('open','partial'))`
		args = []any{limit}
	case repository.SweepUnarchived:
		where = `archived_at IS NULL AND ((status = 'resolved' AND settled_at IS NOT NULL) OR status = 'cancelled')`
		args = []any{limit}
	default:
		return nil, fmt.Errorf("postgres.ListMarketIDs: unknown sweep %d", sweep)
	}

	var ids []uuid.UUID
	query := `SELECT id FROM markets WHERE ` + where + ` ORDER BY end_time ASC LIMIT $1`
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("postgres.ListMarketIDs: %w", err)
	}
	return ids, nil
}

// GetBalance implements repository.Reader. Unknown users have a zero balance.
func (s *Store) GetBalance(ctx context.Context, user string) (*domain.Balance, error) {
	var b domain.Balance
	err := s.db.GetContext(ctx, &b, `SELECT * FROM balances WHERE user_address = $1`, user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.Balance{User: user}, nil
		}
		return nil, fmt.Errorf("postgres.GetBalance: %w", err)
	}
	return &b, nil
}

// ListPositions implements repository.Reader.
func (s *Store) ListPositions(ctx context.Context, user string) ([]*domain.Position, error) {
	var ps []*domain.Position
	if err := s.db.SelectContext(ctx, &ps,
		`SELECT * FROM positions WHERE user_address = $1 ORDER BY market_id, outcome`, user); err != nil {
		return nil, fmt.Errorf("postgres.ListPositions: %w", err)
	}
	return ps, nil
}

// CountPositions implements repository.Reader.
func (s *Store) CountPositions(ctx context.Context, marketID uuid.UUID) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM positions WHERE market_id = $1`, marketID); err != nil {
		return 0, fmt.Errorf("postgres.CountPositions: %w", err)
	}
	return n, nil
}

// ListRestingOrders implements repository.Reader.
func (s *Store) ListRestingOrders(ctx context.Context, marketID uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	if err := s.db.SelectContext(ctx, &orders,
		`SELECT `+orderCols+` FROM orders
		 WHERE market_id = $1 AND status IN ('open','partial')
		 ORDER BY seq`, marketID); err != nil {
		return nil, fmt.Errorf("postgres.ListRestingOrders: %w", err)
	}
	return orders, nil
}

// GetProposal implements repository.Reader.
func (s *Store) GetProposal(ctx context.Context, id uuid.UUID) (*domain.ResolutionProposal, error) {
	var p domain.ResolutionProposal
	err := s.db.GetContext(ctx, &p, `SELECT * FROM resolution_proposals WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProposalNotFound
		}
		return nil, fmt.Errorf("postgres.GetProposal: %w", err)
	}
	return &p, nil
}

// ListChallenges implements repository.Reader.
func (s *Store) ListChallenges(ctx context.Context, proposalID uuid.UUID) ([]*domain.ResolutionChallenge, error) {
	var cs []*domain.ResolutionChallenge
	if err := s.db.SelectContext(ctx, &cs,
		`SELECT * FROM resolution_challenges WHERE proposal_id = $1 ORDER BY created_at`, proposalID); err != nil {
		return nil, fmt.Errorf("postgres.ListChallenges: %w", err)
	}
	return cs, nil
}

// ListLedger implements repository.Reader.
func (s *Store) ListLedger(ctx context.Context, marketID uuid.UUID) ([]*domain.LedgerEntry, error) {
	var es []*domain.LedgerEntry
	if err := s.db.SelectContext(ctx, &es,
		`SELECT `+ledgerCols+` FROM settlement_ledger WHERE market_id = $1 ORDER BY seq`, marketID); err != nil {
		return nil, fmt.Errorf("postgres.ListLedger: %w", err)
	}
	return es, nil
}
