package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Tx implements repository.Tx on a *sqlx.Tx.
type Tx struct {
	tx *sqlx.Tx
}

var _ repository.Tx = (*Tx)(nil)

// AdvisoryLock implements repository.Tx. The lock is released at commit or
// rollback.
func (t *Tx) AdvisoryLock(ctx context.Context, key string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return mapErr("postgres.AdvisoryLock", err)
	}
	return nil
}

// ──── Markets & options ──────────────────────────────────────────────────────

// LockMarket implements repository.Tx.
func (t *Tx) LockMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := t.tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, mapErr("postgres.LockMarket", err)
	}
	return &m, nil
}

// InsertMarket implements repository.Tx.
func (t *Tx) InsertMarket(ctx context.Context, m *domain.Market) error {
	query := `
		INSERT INTO markets
			(id, kind, status, creator, question, end_time, fee_rate, total_liquidity,
			 yes_reserve, no_reserve, liquidity_param, lp_shares_total,
			 buy_volume, sell_volume, fees_collected,
			 oracle_symbol, oracle_target, oracle_comparator, contract_address,
			 winning_outcome, settle_net_deposits, settle_winning_shares,
			 resolved_at, settled_at, archived_at, created_at, updated_at)
		VALUES
			(:id, :kind, :status, :creator, :question, :end_time, :fee_rate, :total_liquidity,
			 :yes_reserve, :no_reserve, :liquidity_param, :lp_shares_total,
			 :buy_volume, :sell_volume, :fees_collected,
			 :oracle_symbol, :oracle_target, :oracle_comparator, :contract_address,
			 :winning_outcome, :settle_net_deposits, :settle_winning_shares,
			 :resolved_at, :settled_at, :archived_at, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, m); err != nil {
		return mapErr("postgres.InsertMarket", err)
	}
	return nil
}

// UpdateMarket implements repository.Tx. Immutable columns (kind, creator,
// question, oracle rule) are not written.
func (t *Tx) UpdateMarket(ctx context.Context, m *domain.Market) error {
	query := `
		UPDATE markets SET
			status                = :status,
			end_time              = :end_time,
			total_liquidity       = :total_liquidity,
			yes_reserve           = :yes_reserve,
			no_reserve            = :no_reserve,
			lp_shares_total       = :lp_shares_total,
			buy_volume            = :buy_volume,
			sell_volume           = :sell_volume,
			fees_collected        = :fees_collected,
			winning_outcome       = :winning_outcome,
			settle_net_deposits   = :settle_net_deposits,
			settle_winning_shares = :settle_winning_shares,
			resolved_at           = :resolved_at,
			settled_at            = :settled_at,
			archived_at           = :archived_at,
			updated_at            = :updated_at
		WHERE id = :id`
	res, err := t.tx.NamedExecContext(ctx, query, m)
	if err != nil {
		return mapErr("postgres.UpdateMarket", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// LockOptions implements repository.Tx.
func (t *Tx) LockOptions(ctx context.Context, marketID uuid.UUID) ([]*domain.Option, error) {
	var opts []*domain.Option
	if err := t.tx.SelectContext(ctx, &opts,
		`SELECT * FROM market_options WHERE market_id = $1 ORDER BY idx FOR UPDATE`, marketID); err != nil {
		return nil, mapErr("postgres.LockOptions", err)
	}
	return opts, nil
}

// InsertOption implements repository.Tx.
func (t *Tx) InsertOption(ctx context.Context, o *domain.Option) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO market_options (id, market_id, idx, label, reserve, price, updated_at)
		VALUES (:id, :market_id, :idx, :label, :reserve, :price, :updated_at)`, o); err != nil {
		return mapErr("postgres.InsertOption", err)
	}
	return nil
}

// UpdateOption implements repository.Tx.
func (t *Tx) UpdateOption(ctx context.Context, o *domain.Option) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		UPDATE market_options SET reserve = :reserve, price = :price, updated_at = :updated_at
		WHERE id = :id`, o); err != nil {
		return mapErr("postgres.UpdateOption", err)
	}
	return nil
}

// ──── Balances ───────────────────────────────────────────────────────────────

// LockBalance implements repository.Tx.
func (t *Tx) LockBalance(ctx context.Context, user string) (*domain.Balance, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO balances (user_address) VALUES ($1) ON CONFLICT (user_address) DO NOTHING`, user); err != nil {
		return nil, mapErr("postgres.LockBalance insert", err)
	}
	var b domain.Balance
	if err := t.tx.GetContext(ctx, &b,
		`SELECT * FROM balances WHERE user_address = $1 FOR UPDATE`, user); err != nil {
		return nil, mapErr("postgres.LockBalance lock", err)
	}
	return &b, nil
}

// UpdateBalance implements repository.Tx.
func (t *Tx) UpdateBalance(ctx context.Context, b *domain.Balance) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE balances SET available = $1, locked = $2, updated_at = now() WHERE user_address = $3`,
		b.Available, b.Locked, b.User); err != nil {
		return mapErr("postgres.UpdateBalance", err)
	}
	return nil
}

// ──── Positions ──────────────────────────────────────────────────────────────

// LockPosition implements repository.Tx.
func (t *Tx) LockPosition(ctx context.Context, user string, marketID uuid.UUID, outcome domain.Outcome) (*domain.Position, error) {
	var p domain.Position
	err := t.tx.GetContext(ctx, &p, `
		SELECT * FROM positions
		WHERE user_address = $1 AND market_id = $2 AND outcome = $3
		FOR UPDATE`, user, marketID, int(outcome))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, mapErr("postgres.LockPosition", err)
	}
	return &p, nil
}

// LockMarketPositions implements repository.Tx.
func (t *Tx) LockMarketPositions(ctx context.Context, marketID uuid.UUID, limit int) ([]*domain.Position, error) {
	var (
		ps  []*domain.Position
		err error
	)
	if limit > 0 {
		err = t.tx.SelectContext(ctx, &ps, `
			SELECT * FROM positions WHERE market_id = $1
			ORDER BY user_address, outcome LIMIT $2 FOR UPDATE`, marketID, limit)
	} else {
		err = t.tx.SelectContext(ctx, &ps, `
			SELECT * FROM positions WHERE market_id = $1
			ORDER BY user_address, outcome FOR UPDATE`, marketID)
	}
	if err != nil {
		return nil, mapErr("postgres.LockMarketPositions", err)
	}
	return ps, nil
}

// SavePosition implements repository.Tx.
func (t *Tx) SavePosition(ctx context.Context, p *domain.Position) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO positions (user_address, market_id, outcome, shares, avg_cost, updated_at)
		VALUES (:user_address, :market_id, :outcome, :shares, :avg_cost, now())
		ON CONFLICT (user_address, market_id, outcome)
		DO UPDATE SET shares = EXCLUDED.shares, avg_cost = EXCLUDED.avg_cost, updated_at = now()`, p); err != nil {
		return mapErr("postgres.SavePosition", err)
	}
	return nil
}

// DeletePosition implements repository.Tx.
func (t *Tx) DeletePosition(ctx context.Context, user string, marketID uuid.UUID, outcome domain.Outcome) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM positions WHERE user_address = $1 AND market_id = $2 AND outcome = $3`,
		user, marketID, int(outcome)); err != nil {
		return mapErr("postgres.DeletePosition", err)
	}
	return nil
}

// ──── Orders ─────────────────────────────────────────────────────────────────

// InsertOrder implements repository.Tx.
func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO orders (`+orderCols+`)
		VALUES (:id, :market_id, :user_address, :outcome, :side, :price, :amount, :filled, :status, :created_at, :updated_at)`,
		o); err != nil {
		return mapErr("postgres.InsertOrder", err)
	}
	return nil
}

// UpdateOrder implements repository.Tx.
func (t *Tx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET filled = $1, status = $2, updated_at = $3 WHERE id = $4`,
		o.Filled, string(o.Status), o.UpdatedAt, o.ID)
	if err != nil {
		return mapErr("postgres.UpdateOrder", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// LockOrder implements repository.Tx.
func (t *Tx) LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := t.tx.GetContext(ctx, &o, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, mapErr("postgres.LockOrder", err)
	}
	return &o, nil
}

// LockRestingOrders implements repository.Tx.
func (t *Tx) LockRestingOrders(ctx context.Context, marketID uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	if err := t.tx.SelectContext(ctx, &orders, `
		SELECT `+orderCols+` FROM orders
		WHERE market_id = $1 AND status IN ('open','partial')
		ORDER BY seq FOR UPDATE`, marketID); err != nil {
		return nil, mapErr("postgres.LockRestingOrders", err)
	}
	return orders, nil
}

// LockMatchCandidates implements repository.Tx.
func (t *Tx) LockMatchCandidates(ctx context.Context, in *domain.Order) ([]*domain.Order, error) {
	var cmp, dir string
	if in.Side == domain.SideBuy {
		cmp, dir = "<=", "ASC" // cheapest sellers first
	} else {
		cmp, dir = ">=", "DESC" // highest bidders first
	}
	query := `
		SELECT ` + orderCols + ` FROM orders
		WHERE market_id = $1 AND outcome = $2 AND side = $3 AND id <> $4
		  AND status IN ('open','partial') AND price ` + cmp + ` $5
		ORDER BY price ` + dir + `, seq ASC
		FOR UPDATE`
	var orders []*domain.Order
	if err := t.tx.SelectContext(ctx, &orders, query,
		in.MarketID, int(in.Outcome), string(in.Side.Opposite()), in.ID, in.Price); err != nil {
		return nil, mapErr("postgres.LockMatchCandidates", err)
	}
	return orders, nil
}

// ──── LP shares ──────────────────────────────────────────────────────────────

// LockLPShare implements repository.Tx.
func (t *Tx) LockLPShare(ctx context.Context, user string, marketID uuid.UUID) (*domain.LPShare, error) {
	var s domain.LPShare
	err := t.tx.GetContext(ctx, &s,
		`SELECT * FROM lp_shares WHERE user_address = $1 AND market_id = $2 FOR UPDATE`, user, marketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLPShareNotFound
		}
		return nil, mapErr("postgres.LockLPShare", err)
	}
	return &s, nil
}

// LockMarketLPShares implements repository.Tx.
func (t *Tx) LockMarketLPShares(ctx context.Context, marketID uuid.UUID) ([]*domain.LPShare, error) {
	var shares []*domain.LPShare
	if err := t.tx.SelectContext(ctx, &shares,
		`SELECT * FROM lp_shares WHERE market_id = $1 ORDER BY user_address FOR UPDATE`, marketID); err != nil {
		return nil, mapErr("postgres.LockMarketLPShares", err)
	}
	return shares, nil
}

// SaveLPShare implements repository.Tx.
func (t *Tx) SaveLPShare(ctx context.Context, s *domain.LPShare) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO lp_shares (user_address, market_id, shares, updated_at)
		VALUES (:user_address, :market_id, :shares, now())
		ON CONFLICT (user_address, market_id)
		DO UPDATE SET shares = EXCLUDED.shares, updated_at = now()`, s); err != nil {
		return mapErr("postgres.SaveLPShare", err)
	}
	return nil
}

// DeleteLPShare implements repository.Tx.
func (t *Tx) DeleteLPShare(ctx context.Context, user string, marketID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM lp_shares WHERE user_address = $1 AND market_id = $2`, user, marketID); err != nil {
		return mapErr("postgres.DeleteLPShare", err)
	}
	return nil
}

// ──── Resolution ─────────────────────────────────────────────────────────────

// LockActiveProposal implements repository.Tx.
func (t *Tx) LockActiveProposal(ctx context.Context, marketID uuid.UUID) (*domain.ResolutionProposal, error) {
	var p domain.ResolutionProposal
	err := t.tx.GetContext(ctx, &p, `
		SELECT * FROM resolution_proposals
		WHERE market_id = $1 AND status IN ('proposed','challenged')
		FOR UPDATE`, marketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProposalNotFound
		}
		return nil, mapErr("postgres.LockActiveProposal", err)
	}
	return &p, nil
}

// LockProposal implements repository.Tx.
func (t *Tx) LockProposal(ctx context.Context, id uuid.UUID) (*domain.ResolutionProposal, error) {
	var p domain.ResolutionProposal
	err := t.tx.GetContext(ctx, &p, `SELECT * FROM resolution_proposals WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProposalNotFound
		}
		return nil, mapErr("postgres.LockProposal", err)
	}
	return &p, nil
}

// InsertProposal implements repository.Tx.
func (t *Tx) InsertProposal(ctx context.Context, p *domain.ResolutionProposal) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO resolution_proposals
			(id, market_id, proposer, outcome, evidence, window_ends_at, challenge_count,
			 status, final_outcome, created_at, finalized_at)
		VALUES
			(:id, :market_id, :proposer, :outcome, :evidence, :window_ends_at, :challenge_count,
			 :status, :final_outcome, :created_at, :finalized_at)`, p)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return domain.ErrActiveProposalExists
		}
		return mapErr("postgres.InsertProposal", err)
	}
	return nil
}

// UpdateProposal implements repository.Tx.
func (t *Tx) UpdateProposal(ctx context.Context, p *domain.ResolutionProposal) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		UPDATE resolution_proposals SET
			window_ends_at  = :window_ends_at,
			challenge_count = :challenge_count,
			status          = :status,
			final_outcome   = :final_outcome,
			finalized_at    = :finalized_at
		WHERE id = :id`, p); err != nil {
		return mapErr("postgres.UpdateProposal", err)
	}
	return nil
}

// InsertChallenge implements repository.Tx.
func (t *Tx) InsertChallenge(ctx context.Context, c *domain.ResolutionChallenge) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO resolution_challenges (id, proposal_id, challenger, reason, created_at)
		VALUES (:id, :proposal_id, :challenger, :reason, :created_at)`, c)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return domain.ErrDuplicateChallenge
		}
		return mapErr("postgres.InsertChallenge", err)
	}
	return nil
}

// ──── Ledger ─────────────────────────────────────────────────────────────────

// AppendLedger implements repository.Tx.
func (t *Tx) AppendLedger(ctx context.Context, e *domain.LedgerEntry) error {
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO settlement_ledger (`+ledgerCols+`)
		VALUES (:id, :market_id, :user_address, :action, :amount, :details, :created_at)`, e); err != nil {
		return mapErr("postgres.AppendLedger", err)
	}
	return nil
}

// FindLedger implements repository.Tx.
func (t *Tx) FindLedger(ctx context.Context, marketID uuid.UUID, user string, action domain.LedgerAction) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := t.tx.GetContext(ctx, &e, `
		SELECT `+ledgerCols+` FROM settlement_ledger
		WHERE market_id = $1 AND user_address = $2 AND action = $3
		ORDER BY seq LIMIT 1`, marketID, user, string(action))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLedgerEntryNotFound
		}
		return nil, mapErr("postgres.FindLedger", err)
	}
	return &e, nil
}

// SumLedger implements repository.Tx.
func (t *Tx) SumLedger(ctx context.Context, marketID uuid.UUID, actions ...domain.LedgerAction) (decimal.Decimal, int, error) {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	var row struct {
		Sum   decimal.Decimal `db:"total"`
		Count int             `db:"n"`
	}
	err := t.tx.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(amount), 0) AS total, COUNT(*) AS n
		FROM settlement_ledger
		WHERE market_id = $1 AND action = ANY($2)`, marketID, pq.Array(names))
	if err != nil {
		return decimal.Zero, 0, mapErr("postgres.SumLedger", err)
	}
	return row.Sum, row.Count, nil
}

// ──── Deposits ───────────────────────────────────────────────────────────────

// InsertDeposit implements repository.Tx.
func (t *Tx) InsertDeposit(ctx context.Context, d *domain.Deposit) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO deposits (tx_hash, user_address, amount, created_at)
		VALUES (:tx_hash, :user_address, :amount, :created_at)`, d)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return domain.ErrDepositDuplicate
		}
		return mapErr("postgres.InsertDeposit", err)
	}
	return nil
}
