package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the transactional API over a Store. It is the only code path that
// writes the balance: every mutation that changes money flow adjusts the
// balance inside the same unit of work.
type Ledger struct {
	store  Store
	now    func() time.Time
	newID  func() string
	hooks  []func(ctx context.Context)
	mu     sync.Mutex
	lastTS time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for created_at and last_updated.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides identity generation.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithCommitHook registers fn to run after every committed mutation.
func WithCommitHook(fn func(ctx context.Context)) Option {
	return func(l *Ledger) { l.hooks = append(l.hooks, fn) }
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store for read-only consumers.
func (l *Ledger) Store() Store {
	return l.store
}

// TransactionPatch carries the fields of a partial transaction update.
// Nil fields are left unchanged.
type TransactionPatch struct {
	Type        *domain.TransactionType
	Amount      *decimal.Decimal
	Name        *string
	Category    *domain.Category
	Date        *civil.Date
	IsNecessary *bool
	Notes       *string
}

func (p TransactionPatch) apply(t *domain.Transaction) {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.IsNecessary != nil {
		t.IsNecessary = *p.IsNecessary
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
}

// ListOptions controls ListTransactions.
type ListOptions struct {
	Sort  Sort
	Limit int
	// Match, when set, keeps only transactions it returns true for.
	// Limit applies after matching.
	Match func(domain.Transaction) bool
}

// ImportResult is the outcome of ImportTransactions.
type ImportResult struct {
	Transactions []domain.Transaction
	Balance      domain.Balance
}

// CreateTransaction validates and persists t with a fresh identity and applies
// its signed amount to the balance.
func (l *Ledger) CreateTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	res, err := l.insertBatch(ctx, []domain.Transaction{t}, nil)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("CreateTransaction: %w", err)
	}
	return res.Transactions[0], nil
}

// BulkCreate persists all of txs or none of them. The balance moves by the sum
// of their signed amounts.
func (l *Ledger) BulkCreate(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	res, err := l.insertBatch(ctx, txs, nil)
	if err != nil {
		return nil, fmt.Errorf("BulkCreate: %w", err)
	}
	return res.Transactions, nil
}

// ImportTransactions persists txs atomically. When finalBalance is set the
// balance is overwritten with it; otherwise the incremental sum is applied.
func (l *Ledger) ImportTransactions(ctx context.Context, txs []domain.Transaction, finalBalance *decimal.Decimal) (ImportResult, error) {
	res, err := l.insertBatch(ctx, txs, finalBalance)
	if err != nil {
		return ImportResult{}, fmt.Errorf("ImportTransactions: %w", err)
	}
	return res, nil
}

func (l *Ledger) insertBatch(ctx context.Context, txs []domain.Transaction, override *decimal.Decimal) (ImportResult, error) {
	if len(txs) == 0 && override == nil {
		b, err := l.GetBalance(ctx)
		return ImportResult{Transactions: []domain.Transaction{}, Balance: b}, err
	}

	prepared := make([]domain.Transaction, len(txs))
	for i, t := range txs {
		if err := t.Validate(); err != nil {
			if len(txs) > 1 {
				return ImportResult{}, fmt.Errorf("record %d: %w", i, err)
			}
			return ImportResult{}, err
		}
		t.ID = l.newID()
		t.CreatedAt = l.nextTimestamp()
		prepared[i] = t
	}

	var balance domain.Balance
	err := l.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertTransactions(ctx, prepared); err != nil {
			return fmt.Errorf("inserting transactions: %w", err)
		}
		var err error
		if override != nil {
			balance, err = l.putBalance(ctx, tx, *override)
		} else {
			balance, err = l.applyDelta(ctx, tx, domain.SumSigned(prepared))
		}
		return err
	})
	if err != nil {
		return ImportResult{}, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("count", len(prepared)).
		Bool("balance_override", override != nil).
		Str("balance", balance.Current.String()).
		Msg("Transactions committed")

	return ImportResult{Transactions: prepared, Balance: balance}, nil
}

// UpdateTransaction applies patch to the transaction with the given id. The
// balance moves by the difference between the new and old signed amounts.
func (l *Ledger) UpdateTransaction(ctx context.Context, id string, patch TransactionPatch) (domain.Transaction, error) {
	var updated domain.Transaction
	err := l.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		next := *old
		patch.apply(&next)
		if err := next.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, next); err != nil {
			return fmt.Errorf("updating transaction: %w", err)
		}
		delta := next.SignedAmount().Sub(old.SignedAmount())
		if !delta.IsZero() {
			if _, err := l.applyDelta(ctx, tx, delta); err != nil {
				return err
			}
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("UpdateTransaction: %w", err)
	}
	return updated, nil
}

// DeleteTransaction removes the transaction and reverses its balance effect.
// Deleting an unknown id fails with NotFoundError.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) error {
	err := l.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return fmt.Errorf("deleting transaction: %w", err)
		}
		_, err = l.applyDelta(ctx, tx, old.SignedAmount().Neg())
		return err
	})
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

// GetTransaction returns one transaction by id.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	t, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("GetTransaction: %w", err)
	}
	return *t, nil
}

// ListTransactions returns transactions ordered and capped per opts.
func (l *Ledger) ListTransactions(ctx context.Context, opts ListOptions) ([]domain.Transaction, error) {
	sort := opts.Sort
	if sort.Field == "" {
		sort = DefaultSort
	}
	limit := opts.Limit
	if opts.Match != nil {
		limit = 0
	}

	txs, err := l.store.ListTransactions(ctx, sort, limit)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	if opts.Match == nil {
		return txs, nil
	}

	out := make([]domain.Transaction, 0, len(txs))
	for _, t := range txs {
		if !opts.Match(t) {
			continue
		}
		out = append(out, t)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetBalance returns the current balance, or a zero balance if none was ever recorded.
func (l *Ledger) GetBalance(ctx context.Context) (domain.Balance, error) {
	b, err := l.store.GetBalance(ctx)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("GetBalance: %w", err)
	}
	if b == nil {
		return domain.Balance{Current: decimal.Zero}, nil
	}
	return *b, nil
}

// SetBalance replaces the balance with value, creating the record if needed.
func (l *Ledger) SetBalance(ctx context.Context, value decimal.Decimal) (domain.Balance, error) {
	var balance domain.Balance
	err := l.runInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		balance, err = l.putBalance(ctx, tx, value)
		return err
	})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("SetBalance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) applyDelta(ctx context.Context, tx Tx, delta decimal.Decimal) (domain.Balance, error) {
	current, err := tx.GetBalance(ctx)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("reading balance: %w", err)
	}
	value := delta
	if current != nil {
		value = current.Current.Add(delta)
	}
	return l.putBalance(ctx, tx, value)
}

func (l *Ledger) putBalance(ctx context.Context, tx Tx, value decimal.Decimal) (domain.Balance, error) {
	b := domain.Balance{Current: value, LastUpdated: l.now().UTC()}
	if err := tx.PutBalance(ctx, b); err != nil {
		return domain.Balance{}, fmt.Errorf("writing balance: %w", err)
	}
	return b, nil
}

func (l *Ledger) runInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := l.store.RunInTx(ctx, fn); err != nil {
		return err
	}
	for _, hook := range l.hooks {
		hook(ctx)
	}
	return nil
}

// nextTimestamp returns a UTC time strictly after every previously issued one,
// at microsecond resolution so ordering survives stores that truncate.
func (l *Ledger) nextTimestamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC().Truncate(time.Microsecond)
	if !ts.After(l.lastTS) {
		ts = l.lastTS.Add(time.Microsecond)
	}
	l.lastTS = ts
	return ts
}
