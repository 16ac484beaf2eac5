package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
)

// Store is an in-memory implementation of ledger.Store.
// A unit of work runs against a private copy of the state that replaces the
// live state only when the unit succeeds, so a failed unit leaves no trace.
// Data is lost on restart.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	transactions  map[string]domain.Transaction
	subscriptions map[string]domain.Subscription
	balance       *domain.Balance
}

// NewStore creates an empty in-memory ledger store.
func NewStore() *Store {
	return &Store{
		state: &state{
			transactions:  make(map[string]domain.Transaction),
			subscriptions: make(map[string]domain.Subscription),
		},
	}
}

func (s *state) clone() *state {
	c := &state{
		transactions:  make(map[string]domain.Transaction, len(s.transactions)),
		subscriptions: make(map[string]domain.Subscription, len(s.subscriptions)),
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = copySubscription(v)
	}
	if s.balance != nil {
		b := *s.balance
		c.balance = &b
	}
	return c
}

// RunInTx implements ledger.Store. Units are serialized.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{base: s.state, work: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// ListTransactions implements ledger.Store.
func (s *Store) ListTransactions(ctx context.Context, order ledger.Sort, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(s.state.transactions))
	for _, t := range s.state.transactions {
		out = append(out, t)
	}
	SortTransactions(out, order)

	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetTransaction implements ledger.Store.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(s.state, id)
}

// GetBalance implements ledger.Store.
func (s *Store) GetBalance(ctx context.Context) (*domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(s.state), nil
}

// ListSubscriptions implements ledger.Store.
func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSubscriptions(s.state), nil
}

// GetSubscription implements ledger.Store.
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSubscription(s.state, id)
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	return nil
}

// tx reads from the state as it was when the unit started and writes to work.
type tx struct {
	base *state
	work *state
}

func (t *tx) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return getTransaction(t.base, id)
}

func (t *tx) InsertTransactions(ctx context.Context, txs []domain.Transaction) error {
	for _, rec := range txs {
		t.work.transactions[rec.ID] = rec
	}
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, rec domain.Transaction) error {
	if _, ok := t.work.transactions[rec.ID]; !ok {
		return &domain.NotFoundError{Kind: "transaction", ID: rec.ID}
	}
	t.work.transactions[rec.ID] = rec
	return nil
}

func (t *tx) DeleteTransaction(ctx context.Context, id string) error {
	if _, ok := t.work.transactions[id]; !ok {
		return &domain.NotFoundError{Kind: "transaction", ID: id}
	}
	delete(t.work.transactions, id)
	return nil
}

func (t *tx) GetBalance(ctx context.Context) (*domain.Balance, error) {
	return getBalance(t.base), nil
}

func (t *tx) PutBalance(ctx context.Context, b domain.Balance) error {
	t.work.balance = &b
	return nil
}

func (t *tx) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return listSubscriptions(t.base), nil
}

func (t *tx) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return getSubscription(t.base, id)
}

func (t *tx) InsertSubscription(ctx context.Context, sub domain.Subscription) error {
	t.work.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (t *tx) UpdateSubscription(ctx context.Context, sub domain.Subscription) error {
	if _, ok := t.work.subscriptions[sub.ID]; !ok {
		return &domain.NotFoundError{Kind: "subscription", ID: sub.ID}
	}
	t.work.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (t *tx) DeleteSubscription(ctx context.Context, id string) error {
	if _, ok := t.work.subscriptions[id]; !ok {
		return &domain.NotFoundError{Kind: "subscription", ID: id}
	}
	delete(t.work.subscriptions, id)
	return nil
}

func getTransaction(st *state, id string) (*domain.Transaction, error) {
	rec, ok := st.transactions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "transaction", ID: id}
	}
	return &rec, nil
}

func getBalance(st *state) *domain.Balance {
	if st.balance == nil {
		return nil
	}
	b := *st.balance
	return &b
}

func listSubscriptions(st *state) []domain.Subscription {
	out := make([]domain.Subscription, 0, len(st.subscriptions))
	for _, sub := range st.subscriptions {
		out = append(out, copySubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func getSubscription(st *state, id string) (*domain.Subscription, error) {
	sub, ok := st.subscriptions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "subscription", ID: id}
	}
	c := copySubscription(sub)
	return &c, nil
}

func copySubscription(s domain.Subscription) domain.Subscription {
	if s.LastBilledDate != nil {
		d := *s.LastBilledDate
		s.LastBilledDate = &d
	}
	return s
}

// SortTransactions orders txs in place. Date ties fall back to creation time.
func SortTransactions(txs []domain.Transaction, order ledger.Sort) {
	less := func(a, b domain.Transaction) bool {
		if order.Field == ledger.SortDate && a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if order.Desc {
			return less(txs[j], txs[i])
		}
		return less(txs[i], txs[j])
	})
}

var _ ledger.Store = (*Store)(nil)
