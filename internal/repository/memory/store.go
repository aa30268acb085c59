// Package memory is an in-process repository.Store. A transaction holds the
// single writer lock for its whole lifetime and works on a private copy of
// the state; commit swaps the copy in, rollback drops it. That gives the same
// isolation the row locks give in Postgres (strictly serial writers), which
// is what the service tests and STORE_DRIVER=memory rely on.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type posKey struct {
	user    string
	market  uuid.UUID
	outcome domain.Outcome
}

type lpKey struct {
	user   string
	market uuid.UUID
}

type memOrder struct {
	order domain.Order
	seq   int64
}

// state is everything the store holds. Values, not pointers, so that a
// shallow map copy is an independent snapshot.
type state struct {
	markets    map[uuid.UUID]domain.Market
	options    map[uuid.UUID][]domain.Option
	balances   map[string]domain.Balance
	positions  map[posKey]domain.Position
	orders     map[uuid.UUID]memOrder
	lpShares   map[lpKey]domain.LPShare
	proposals  map[uuid.UUID]domain.ResolutionProposal
	challenges map[uuid.UUID]domain.ResolutionChallenge
	ledger     []domain.LedgerEntry
	deposits   map[string]domain.Deposit
	seq        int64
}

func newState() *state {
	return &state{
		markets:    map[uuid.UUID]domain.Market{},
		options:    map[uuid.UUID][]domain.Option{},
		balances:   map[string]domain.Balance{},
		positions:  map[posKey]domain.Position{},
		orders:     map[uuid.UUID]memOrder{},
		lpShares:   map[lpKey]domain.LPShare{},
		proposals:  map[uuid.UUID]domain.ResolutionProposal{},
		challenges: map[uuid.UUID]domain.ResolutionChallenge{},
		deposits:   map[string]domain.Deposit{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	opts := make(map[uuid.UUID][]domain.Option, len(s.options))
	for k, v := range s.options {
		opts[k] = append([]domain.Option(nil), v...)
	}
	return &state{
		markets:    copyMap(s.markets),
		options:    opts,
		balances:   copyMap(s.balances),
		positions:  copyMap(s.positions),
		orders:     copyMap(s.orders),
		lpShares:   copyMap(s.lpShares),
		proposals:  copyMap(s.proposals),
		challenges: copyMap(s.challenges),
		ledger:     append([]domain.LedgerEntry(nil), s.ledger...),
		deposits:   copyMap(s.deposits),
		seq:        s.seq,
	}
}

// Store implements repository.Store in memory.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

var _ repository.Store = (*Store)(nil)

// WithTx implements repository.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{st: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Copies: pointer fields are duplicated so callers never alias stored rows
// ──────────────────────────────────────────────────────────────────────────────

func ptrCopy[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func marketCopy(m domain.Market) *domain.Market {
	m.WinningOutcome = ptrCopy(m.WinningOutcome)
	m.ResolvedAt = ptrCopy(m.ResolvedAt)
	m.SettledAt = ptrCopy(m.SettledAt)
	m.ArchivedAt = ptrCopy(m.ArchivedAt)
	return &m
}

func proposalCopy(p domain.ResolutionProposal) *domain.ResolutionProposal {
	p.FinalOutcome = ptrCopy(p.FinalOutcome)
	p.FinalizedAt = ptrCopy(p.FinalizedAt)
	return &p
}

func optionsCopy(in []domain.Option) []*domain.Option {
	out := make([]*domain.Option, len(in))
	for i := range in {
		o := in[i]
		out[i] = &o
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Reader
// ──────────────────────────────────────────────────────────────────────────────

// GetMarket implements repository.Reader.
func (s *Store) GetMarket(_ context.Context, id uuid.UUID) (*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return marketCopy(m), nil
}

// ListMarkets implements repository.Reader. Newest first.
func (s *Store) ListMarkets(_ context.Context, f repository.MarketFilter) ([]*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Market, 0, len(s.state.markets))
	for _, m := range s.state.markets {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		out = append(out, marketCopy(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// ListOptions implements repository.Reader.
func (s *Store) ListOptions(_ context.Context, marketID uuid.UUID) ([]*domain.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return optionsCopy(s.state.options[marketID]), nil
}

// ListMarketIDs implements repository.Reader.
func (s *Store) ListMarketIDs(_ context.Context, sweep repository.Sweep, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resting := map[uuid.UUID]bool{}
	if sweep == repository.SweepRestingOrders {
		for _, o := range s.state.orders {
			if o.order.Status.IsResting() {
				resting[o.order.MarketID] = true
			}
		}
	}

	var ms []domain.Market
	for _, m := range s.state.markets {
		var due bool
		switch sweep {
		case repository.SweepEnded:
			due = m.Status == domain.StatusActive && m.HasEnded(now)
		case repository.SweepOracleDue:
			due = m.Status == domain.StatusPendingResolution && m.HasOracle()
		case repository.SweepUnsettled:
			due = m.Status == domain.StatusResolved && m.SettledAt == nil
		case repository.SweepRestingOrders:
			due = m.Status == domain.StatusActive && resting[m.ID]
		case repository.SweepUnarchived:
			due = m.ArchivedAt == nil &&
				((m.Status == domain.StatusResolved && m.SettledAt != nil) || m.Status == domain.StatusCancelled)
		default:
			return nil, fmt.Errorf("memory.ListMarketIDs: unknown sweep %d", sweep)
		}
		if due {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].EndTime.Before(ms[j].EndTime) })

	ids := make([]uuid.UUID, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return page(ids, limit, 0), nil
}

// GetBalance implements repository.Reader. Unknown users have a zero balance.
func (s *Store) GetBalance(_ context.Context, user string) (*domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.balances[user]
	if !ok {
		return &domain.Balance{User: user}, nil
	}
	return &b, nil
}

// ListPositions implements repository.Reader.
func (s *Store) ListPositions(_ context.Context, user string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Position
	for k, p := range s.state.positions {
		if k.user == user {
			p := p
			out = append(out, &p)
		}
	}
	sortPositions(out)
	return out, nil
}

func sortPositions(ps []*domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.MarketID != b.MarketID {
			return a.MarketID.String() < b.MarketID.String()
		}
		if a.User != b.User {
			return a.User < b.User
		}
		return a.Outcome < b.Outcome
	})
}

// CountPositions implements repository.Reader.
func (s *Store) CountPositions(_ context.Context, marketID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.state.positions {
		if k.market == marketID {
			n++
		}
	}
	return n, nil
}

// ListRestingOrders implements repository.Reader. Oldest first.
func (s *Store) ListRestingOrders(_ context.Context, marketID uuid.UUID) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.resting(marketID), nil
}

func (st *state) resting(marketID uuid.UUID) []*domain.Order {
	var rows []memOrder
	for _, o := range st.orders {
		if o.order.MarketID == marketID && o.order.Status.IsResting() {
			rows = append(rows, o)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]*domain.Order, len(rows))
	for i := range rows {
		o := rows[i].order
		out[i] = &o
	}
	return out
}

// GetProposal implements repository.Reader.
func (s *Store) GetProposal(_ context.Context, id uuid.UUID) (*domain.ResolutionProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.proposals[id]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	return proposalCopy(p), nil
}

// ListChallenges implements repository.Reader. Oldest first.
func (s *Store) ListChallenges(_ context.Context, proposalID uuid.UUID) ([]*domain.ResolutionChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ResolutionChallenge
	for _, c := range s.state.challenges {
		if c.ProposalID == proposalID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListLedger implements repository.Reader. Append order.
func (s *Store) ListLedger(_ context.Context, marketID uuid.UUID) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.LedgerEntry
	for i := range s.state.ledger {
		if s.state.ledger[i].MarketID == marketID {
			e := s.state.ledger[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Tx
// ──────────────────────────────────────────────────────────────────────────────

// Tx implements repository.Tx over a private copy of the state. The store's
// writer lock is held for the transaction's lifetime, so "locking" a row is
// simply reading it.
type Tx struct {
	st *state
}

var _ repository.Tx = (*Tx)(nil)

// AdvisoryLock implements repository.Tx. Writers are already serial.
func (t *Tx) AdvisoryLock(context.Context, string) error { return nil }

// LockMarket implements repository.Tx.
func (t *Tx) LockMarket(_ context.Context, id uuid.UUID) (*domain.Market, error) {
	m, ok := t.st.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return marketCopy(m), nil
}

// InsertMarket implements repository.Tx.
func (t *Tx) InsertMarket(_ context.Context, m *domain.Market) error {
	if _, ok := t.st.markets[m.ID]; ok {
		return fmt.Errorf("memory.InsertMarket: %s: %w", m.ID, domain.ErrConflict)
	}
	t.st.markets[m.ID] = *marketCopy(*m)
	return nil
}

// UpdateMarket implements repository.Tx.
func (t *Tx) UpdateMarket(_ context.Context, m *domain.Market) error {
	if _, ok := t.st.markets[m.ID]; !ok {
		return domain.ErrMarketNotFound
	}
	t.st.markets[m.ID] = *marketCopy(*m)
	return nil
}

// LockOptions implements repository.Tx. Ordered by index.
func (t *Tx) LockOptions(_ context.Context, marketID uuid.UUID) ([]*domain.Option, error) {
	return optionsCopy(t.st.options[marketID]), nil
}

// InsertOption implements repository.Tx.
func (t *Tx) InsertOption(_ context.Context, o *domain.Option) error {
	opts := t.st.options[o.MarketID]
	for _, e := range opts {
		if e.Index == o.Index {
			return fmt.Errorf("memory.InsertOption: index %d: %w", o.Index, domain.ErrConflict)
		}
	}
	opts = append(opts, *o)
	sort.Slice(opts, func(i, j int) bool { return opts[i].Index < opts[j].Index })
	t.st.options[o.MarketID] = opts
	return nil
}

// UpdateOption implements repository.Tx.
func (t *Tx) UpdateOption(_ context.Context, o *domain.Option) error {
	opts := t.st.options[o.MarketID]
	for i := range opts {
		if opts[i].ID == o.ID {
			opts[i] = *o
			return nil
		}
	}
	return fmt.Errorf("memory.UpdateOption: %s: %w", o.ID, domain.ErrNotFound)
}

// LockBalance implements repository.Tx.
func (t *Tx) LockBalance(_ context.Context, user string) (*domain.Balance, error) {
	b, ok := t.st.balances[user]
	if !ok {
		b = domain.Balance{User: user}
		t.st.balances[user] = b
	}
	return &b, nil
}

// UpdateBalance implements repository.Tx.
func (t *Tx) UpdateBalance(_ context.Context, b *domain.Balance) error {
	t.st.balances[b.User] = *b
	return nil
}

// LockPosition implements repository.Tx.
func (t *Tx) LockPosition(_ context.Context, user string, marketID uuid.UUID, outcome domain.Outcome) (*domain.Position, error) {
	p, ok := t.st.positions[posKey{user, marketID, outcome}]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	return &p, nil
}

// LockMarketPositions implements repository.Tx. Ordered by (user, outcome);
// limit <= 0 returns every position.
func (t *Tx) LockMarketPositions(_ context.Context, marketID uuid.UUID, limit int) ([]*domain.Position, error) {
	var out []*domain.Position
	for k, p := range t.st.positions {
		if k.market == marketID {
			p := p
			out = append(out, &p)
		}
	}
	sortPositions(out)
	return page(out, limit, 0), nil
}

// SavePosition implements repository.Tx.
func (t *Tx) SavePosition(_ context.Context, p *domain.Position) error {
	t.st.positions[posKey{p.User, p.MarketID, p.Outcome}] = *p
	return nil
}

// DeletePosition implements repository.Tx.
func (t *Tx) DeletePosition(_ context.Context, user string, marketID uuid.UUID, outcome domain.Outcome) error {
	delete(t.st.positions, posKey{user, marketID, outcome})
	return nil
}

// InsertOrder implements repository.Tx.
func (t *Tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("memory.InsertOrder: %s: %w", o.ID, domain.ErrConflict)
	}
	t.st.seq++
	t.st.orders[o.ID] = memOrder{order: *o, seq: t.st.seq}
	return nil
}

// UpdateOrder implements repository.Tx.
func (t *Tx) UpdateOrder(_ context.Context, o *domain.Order) error {
	row, ok := t.st.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	row.order = *o
	t.st.orders[o.ID] = row
	return nil
}

// LockOrder implements repository.Tx.
func (t *Tx) LockOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	row, ok := t.st.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o := row.order
	return &o, nil
}

// LockRestingOrders implements repository.Tx.
func (t *Tx) LockRestingOrders(_ context.Context, marketID uuid.UUID) ([]*domain.Order, error) {
	return t.st.resting(marketID), nil
}

// LockMatchCandidates implements repository.Tx.
func (t *Tx) LockMatchCandidates(_ context.Context, in *domain.Order) ([]*domain.Order, error) {
	want := in.Side.Opposite()
	var rows []memOrder
	for _, r := range t.st.orders {
		o := r.order
		if o.ID == in.ID || o.MarketID != in.MarketID || o.Outcome != in.Outcome ||
			o.Side != want || !o.Status.IsResting() || !in.Crosses(o.Price) {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].order.Price, rows[j].order.Price
		if !a.Equal(b) {
			if want == domain.SideSell {
				return a.LessThan(b)
			}
			return a.GreaterThan(b)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]*domain.Order, len(rows))
	for i := range rows {
		o := rows[i].order
		out[i] = &o
	}
	return out, nil
}

// LockLPShare implements repository.Tx.
func (t *Tx) LockLPShare(_ context.Context, user string, marketID uuid.UUID) (*domain.LPShare, error) {
	s, ok := t.st.lpShares[lpKey{user, marketID}]
	if !ok {
		return nil, domain.ErrLPShareNotFound
	}
	return &s, nil
}

// LockMarketLPShares implements repository.Tx. Ordered by user.
func (t *Tx) LockMarketLPShares(_ context.Context, marketID uuid.UUID) ([]*domain.LPShare, error) {
	var out []*domain.LPShare
	for k, s := range t.st.lpShares {
		if k.market == marketID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

// SaveLPShare implements repository.Tx.
func (t *Tx) SaveLPShare(_ context.Context, s *domain.LPShare) error {
	t.st.lpShares[lpKey{s.User, s.MarketID}] = *s
	return nil
}

// DeleteLPShare implements repository.Tx.
func (t *Tx) DeleteLPShare(_ context.Context, user string, marketID uuid.UUID) error {
	delete(t.st.lpShares, lpKey{user, marketID})
	return nil
}

// LockActiveProposal implements repository.Tx.
func (t *Tx) LockActiveProposal(_ context.Context, marketID uuid.UUID) (*domain.ResolutionProposal, error) {
	for _, p := range t.st.proposals {
		if p.MarketID == marketID && p.Status.IsActive() {
			return proposalCopy(p), nil
		}
	}
	return nil, domain.ErrProposalNotFound
}

// LockProposal implements repository.Tx.
func (t *Tx) LockProposal(_ context.Context, id uuid.UUID) (*domain.ResolutionProposal, error) {
	p, ok := t.st.proposals[id]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	return proposalCopy(p), nil
}

// InsertProposal implements repository.Tx. A second active proposal for the
// same market is refused, mirroring the partial unique index in Postgres.
func (t *Tx) InsertProposal(_ context.Context, p *domain.ResolutionProposal) error {
	for _, e := range t.st.proposals {
		if e.MarketID == p.MarketID && e.Status.IsActive() {
			return domain.ErrActiveProposalExists
		}
	}
	t.st.proposals[p.ID] = *proposalCopy(*p)
	return nil
}

// UpdateProposal implements repository.Tx.
func (t *Tx) UpdateProposal(_ context.Context, p *domain.ResolutionProposal) error {
	if _, ok := t.st.proposals[p.ID]; !ok {
		return domain.ErrProposalNotFound
	}
	t.st.proposals[p.ID] = *proposalCopy(*p)
	return nil
}

// InsertChallenge implements repository.Tx.
func (t *Tx) InsertChallenge(_ context.Context, c *domain.ResolutionChallenge) error {
	for _, e := range t.st.challenges {
		if e.ProposalID == c.ProposalID && e.Challenger == c.Challenger {
			return domain.ErrDuplicateChallenge
		}
	}
	t.st.challenges[c.ID] = *c
	return nil
}

// AppendLedger implements repository.Tx.
func (t *Tx) AppendLedger(_ context.Context, e *domain.LedgerEntry) error {
	t.st.ledger = append(t.st.ledger, *e)
	return nil
}

// FindLedger implements repository.Tx.
func (t *Tx) FindLedger(_ context.Context, marketID uuid.UUID, user string, action domain.LedgerAction) (*domain.LedgerEntry, error) {
	for i := range t.st.ledger {
		e := t.st.ledger[i]
		if e.MarketID == marketID && e.User == user && e.Action == action {
			return &e, nil
		}
	}
	return nil, domain.ErrLedgerEntryNotFound
}

// SumLedger implements repository.Tx.
func (t *Tx) SumLedger(_ context.Context, marketID uuid.UUID, actions ...domain.LedgerAction) (decimal.Decimal, int, error) {
	sum := decimal.Zero
	n := 0
	for _, e := range t.st.ledger {
		if e.MarketID != marketID {
			continue
		}
		for _, a := range actions {
			if e.Action == a {
				sum = sum.Add(e.Amount)
				n++
				break
			}
		}
	}
	return sum, n, nil
}

// InsertDeposit implements repository.Tx.
func (t *Tx) InsertDeposit(_ context.Context, d *domain.Deposit) error {
	if _, ok := t.st.deposits[d.TxHash]; ok {
		return domain.ErrDepositDuplicate
	}
	t.st.deposits[d.TxHash] = *d
	return nil
}
