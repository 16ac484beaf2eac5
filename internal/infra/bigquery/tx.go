package bigquery

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// tx reads committed state directly and buffers writes into a script.
type tx struct {
	store  *Store
	sc     *script
	exists func(ctx context.Context, table, keyColumn, id string) (bool, error)
}

func (t *tx) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return t.store.GetTransaction(ctx, id)
}

func (t *tx) InsertTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	values := ""
	for i, rec := range txs {
		r := transactionToRow(rec)
		if i > 0 {
			values += ",\n"
		}
		values += fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %s, %s)",
			t.sc.bind(r.TransactionID),
			t.sc.bind(r.Type),
			t.sc.bind(r.Amount),
			t.sc.bind(r.Name),
			t.sc.bind(r.Category),
			t.sc.bind(r.Date),
			t.sc.bind(r.IsNecessary),
			t.sc.bind(r.Notes),
			t.sc.bind(r.CreatedAt),
		)
	}
	t.sc.add(fmt.Sprintf(`
		INSERT INTO %s (transaction_id, type, amount, name, category, date, is_necessary, notes, created_at)
		VALUES %s`, t.store.table(transactionsTable), values))
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, rec domain.Transaction) error {
	if err := t.mustExist(ctx, transactionsTable, "transaction_id", "transaction", rec.ID); err != nil {
		return err
	}
	r := transactionToRow(rec)
	t.sc.add(fmt.Sprintf(`
		UPDATE %s
		SET type = %s,
		    amount = %s,
		    name = %s,
		    category = %s,
		    date = %s,
		    is_necessary = %s,
		    notes = %s
		WHERE transaction_id = %s`,
		t.store.table(transactionsTable),
		t.sc.bind(r.Type),
		t.sc.bind(r.Amount),
		t.sc.bind(r.Name),
		t.sc.bind(r.Category),
		t.sc.bind(r.Date),
		t.sc.bind(r.IsNecessary),
		t.sc.bind(r.Notes),
		t.sc.bind(r.TransactionID),
	))
	return nil
}

func (t *tx) DeleteTransaction(ctx context.Context, id string) error {
	if err := t.mustExist(ctx, transactionsTable, "transaction_id", "transaction", id); err != nil {
		return err
	}
	t.sc.add(fmt.Sprintf("DELETE FROM %s WHERE transaction_id = %s", t.store.table(transactionsTable), t.sc.bind(id)))
	return nil
}

func (t *tx) GetBalance(ctx context.Context) (*domain.Balance, error) {
	return t.store.GetBalance(ctx)
}

func (t *tx) PutBalance(ctx context.Context, b domain.Balance) error {
	id := t.sc.bind(balanceID)
	value := t.sc.bind(toNumeric(b.Current))
	ts := t.sc.bind(b.LastUpdated.UTC())
	t.sc.add(fmt.Sprintf(`
		MERGE %s AS b
		USING (SELECT %s AS balance_id) AS s
		ON b.balance_id = s.balance_id
		WHEN MATCHED THEN
		  UPDATE SET current_balance = %s, last_updated = %s
		WHEN NOT MATCHED THEN
		  INSERT (balance_id, current_balance, last_updated) VALUES (s.balance_id, %s, %s)`,
		t.store.table(balanceTable), id, value, ts, value, ts))
	return nil
}

func (t *tx) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return t.store.ListSubscriptions(ctx)
}

func (t *tx) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return t.store.GetSubscription(ctx, id)
}

func (t *tx) InsertSubscription(ctx context.Context, s domain.Subscription) error {
	r := subscriptionToRow(s)
	t.sc.add(fmt.Sprintf(`
		INSERT INTO %s (subscription_id, name, amount, category, frequency, start_date, is_necessary, last_billed_date, notes, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		t.store.table(subscriptionsTable),
		t.sc.bind(r.SubscriptionID),
		t.sc.bind(r.Name),
		t.sc.bind(r.Amount),
		t.sc.bind(r.Category),
		t.sc.bind(r.Frequency),
		t.sc.bind(r.StartDate),
		t.sc.bind(r.IsNecessary),
		t.sc.bind(r.LastBilledDate),
		t.sc.bind(r.Notes),
		t.sc.bind(r.CreatedAt),
	))
	return nil
}

func (t *tx) UpdateSubscription(ctx context.Context, s domain.Subscription) error {
	if err := t.mustExist(ctx, subscriptionsTable, "subscription_id", "subscription", s.ID); err != nil {
		return err
	}
	r := subscriptionToRow(s)
	t.sc.add(fmt.Sprintf(`
		UPDATE %s
		SET name = %s,
		    amount = %s,
		    category = %s,
		    frequency = %s,
		    start_date = %s,
		    is_necessary = %s,
		    last_billed_date = %s,
		    notes = %s
		WHERE subscription_id = %s`,
		t.store.table(subscriptionsTable),
		t.sc.bind(r.Name),
		t.sc.bind(r.Amount),
		t.sc.bind(r.Category),
		t.sc.bind(r.Frequency),
		t.sc.bind(r.StartDate),
		t.sc.bind(r.IsNecessary),
		t.sc.bind(r.LastBilledDate),
		t.sc.bind(r.Notes),
		t.sc.bind(r.SubscriptionID),
	))
	return nil
}

func (t *tx) DeleteSubscription(ctx context.Context, id string) error {
	if err := t.mustExist(ctx, subscriptionsTable, "subscription_id", "subscription", id); err != nil {
		return err
	}
	t.sc.add(fmt.Sprintf("DELETE FROM %s WHERE subscription_id = %s", t.store.table(subscriptionsTable), t.sc.bind(id)))
	return nil
}

func (t *tx) mustExist(ctx context.Context, table, keyColumn, kind, id string) error {
	ok, err := t.exists(ctx, table, keyColumn, id)
	if err != nil {
		return fmt.Errorf("checking %s %s: %w", kind, id, err)
	}
	if !ok {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
