package ledger

import (
	"context"
	"strings"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// SortField is a transaction attribute lists can be ordered by.
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortDate      SortField = "date"
)

// Sort orders transaction lists. Ties on Date are broken by CreatedAt.
type Sort struct {
	Field SortField
	Desc  bool
}

// DefaultSort is newest-created first.
var DefaultSort = Sort{Field: SortCreatedAt, Desc: true}

// ParseSort parses "field" or "-field" (descending). An empty string yields DefaultSort.
func ParseSort(s string) (Sort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSort, nil
	}
	desc := strings.HasPrefix(s, "-")
	field := SortField(strings.TrimPrefix(s, "-"))
	switch field {
	case SortCreatedAt, SortDate:
		return Sort{Field: field, Desc: desc}, nil
	}
	return Sort{}, &domain.ValidationError{Field: "sort", Reason: "unknown sort key " + s}
}

// String renders the sort in the "-field" form.
func (s Sort) String() string {
	if s.Desc {
		return "-" + string(s.Field)
	}
	return string(s.Field)
}

// Store persists transactions, subscriptions and the single balance record.
// Writes happen only inside RunInTx.
type Store interface {
	// RunInTx runs fn as one atomic unit: either every write made through tx
	// is committed or none is. fn must not call back into the Store.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListTransactions returns transactions in the given order; limit <= 0 means all.
	ListTransactions(ctx context.Context, sort Sort, limit int) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// GetBalance returns nil when no balance record exists yet.
	GetBalance(ctx context.Context) (*domain.Balance, error)

	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)

	Close() error
}

// Tx is the write view of one unit of work. Reads observe the state as of the
// start of the unit; callers must not depend on reading their own writes.
// Missing identities are reported as *domain.NotFoundError.
type Tx interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	InsertTransactions(ctx context.Context, txs []domain.Transaction) error
	UpdateTransaction(ctx context.Context, t domain.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	GetBalance(ctx context.Context) (*domain.Balance, error)
	PutBalance(ctx context.Context, b domain.Balance) error

	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	InsertSubscription(ctx context.Context, s domain.Subscription) error
	UpdateSubscription(ctx context.Context, s domain.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
}
