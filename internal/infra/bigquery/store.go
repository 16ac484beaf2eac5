// Package bigquery persists the ledger in BigQuery tables.
package bigquery

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"google.golang.org/api/iterator"
)

const (
	transactionsTable  = "transactions"
	subscriptionsTable = "subscriptions"
	balanceTable       = "balance"
	importRunsTable    = "import_runs"

	// balanceID is the key of the single balance row.
	balanceID = "current"
)

// Store is a ledger.Store backed by BigQuery. Writes made inside RunInTx are
// buffered and submitted as one multi-statement transaction when the unit
// finishes. Units are serialized within the process.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string

	mu sync.Mutex
}

// NewStore creates a Store with its own BigQuery client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, projectID, datasetID), nil
}

// NewStoreWithClient creates a Store using the provided BigQuery client.
func NewStoreWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

// RunInTx implements ledger.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, sc: &script{}, exists: s.exists}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if t.sc.empty() {
		return nil
	}
	if err := s.exec(ctx, t.sc.SQL(), t.sc.params); err != nil {
		return fmt.Errorf("RunInTx: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Int("statements", len(t.sc.stmts)).
		Msg("BigQuery transaction committed")
	return nil
}

func (s *Store) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return &domain.ExternalServiceError{Service: "bigquery", Op: "running query", Err: err}
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return &domain.ExternalServiceError{Service: "bigquery", Op: "waiting for job", Err: err}
	}
	if err := status.Err(); err != nil {
		return &domain.ExternalServiceError{Service: "bigquery", Op: "job error", Err: err}
	}
	return nil
}

func (s *Store) read(ctx context.Context, sql string, params []bigquery.QueryParameter) (*bigquery.RowIterator, error) {
	q := s.client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "bigquery", Op: "query read", Err: err}
	}
	return it, nil
}

const transactionColumns = `
	transaction_id, type, amount, name, category, date, is_necessary,
	IFNULL(notes, '') AS notes, created_at`

// ListTransactions implements ledger.Store.
func (s *Store) ListTransactions(ctx context.Context, order ledger.Sort, limit int) ([]domain.Transaction, error) {
	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	orderBy := fmt.Sprintf("created_at %[1]s, transaction_id %[1]s", dir)
	if order.Field == ledger.SortDate {
		orderBy = fmt.Sprintf("date %[1]s, created_at %[1]s, transaction_id %[1]s", dir)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", transactionColumns, s.table(transactionsTable), orderBy)
	var params []bigquery.QueryParameter
	if limit > 0 {
		sql += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	it, err := s.read(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}

	out := []domain.Transaction{}
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		t, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// GetTransaction implements ledger.Store.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE transaction_id = @id", transactionColumns, s.table(transactionsTable))
	it, err := s.read(ctx, sql, []bigquery.QueryParameter{{Name: "id", Value: id}})
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}

	var r TransactionRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, &domain.NotFoundError{Kind: "transaction", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: iter next: %w", err)
	}
	t, err := r.toDomain()
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return &t, nil
}

// GetBalance implements ledger.Store.
func (s *Store) GetBalance(ctx context.Context) (*domain.Balance, error) {
	sql := fmt.Sprintf("SELECT balance_id, current_balance, last_updated FROM %s WHERE balance_id = @id", s.table(balanceTable))
	it, err := s.read(ctx, sql, []bigquery.QueryParameter{{Name: "id", Value: balanceID}})
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}

	var r BalanceRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetBalance: iter next: %w", err)
	}
	b, err := r.toDomain()
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return &b, nil
}

const subscriptionColumns = `
	subscription_id, name, amount, category, frequency, start_date,
	is_necessary, last_billed_date, IFNULL(notes, '') AS notes, created_at`

// ListSubscriptions implements ledger.Store.
func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at", subscriptionColumns, s.table(subscriptionsTable))
	it, err := s.read(ctx, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("ListSubscriptions: %w", err)
	}

	out := []domain.Subscription{}
	for {
		var r SubscriptionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSubscriptions: iter next: %w", err)
		}
		sub, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListSubscriptions: %w", err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// GetSubscription implements ledger.Store.
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE subscription_id = @id", subscriptionColumns, s.table(subscriptionsTable))
	it, err := s.read(ctx, sql, []bigquery.QueryParameter{{Name: "id", Value: id}})
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}

	var r SubscriptionRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, &domain.NotFoundError{Kind: "subscription", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: iter next: %w", err)
	}
	sub, err := r.toDomain()
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	return &sub, nil
}

// exists reports whether a row with the given key is present in table.
func (s *Store) exists(ctx context.Context, table, keyColumn, id string) (bool, error) {
	sql := fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE %s = @id", s.table(table), keyColumn)
	it, err := s.read(ctx, sql, []bigquery.QueryParameter{{Name: "id", Value: id}})
	if err != nil {
		return false, err
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("iter next: %w", err)
	}
	return row.N > 0, nil
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*tx)(nil)
)
