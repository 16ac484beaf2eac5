// Package postgres persists the ledger in PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const balanceID = "current"

// Store is a ledger.Store backed by PostgreSQL. Each unit of work is one
// database transaction holding a row lock on the balance.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: connecting: %w", err)
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing gorm connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the ledger tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunInTx implements ledger.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		// Serializes units across processes, including the first one that
		// creates the balance row.
		if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "ledger.balance").Error; err != nil {
			return fmt.Errorf("locking balance: %w", err)
		}
		return fn(ctx, &tx{db: db})
	})
}

// ListTransactions implements ledger.Store.
func (s *Store) ListTransactions(ctx context.Context, order ledger.Sort, limit int) ([]domain.Transaction, error) {
	return listTransactions(s.db.WithContext(ctx), order, limit)
}

// GetTransaction implements ledger.Store.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return getTransaction(s.db.WithContext(ctx), id)
}

// GetBalance implements ledger.Store.
func (s *Store) GetBalance(ctx context.Context) (*domain.Balance, error) {
	return getBalance(s.db.WithContext(ctx))
}

// ListSubscriptions implements ledger.Store.
func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return listSubscriptions(s.db.WithContext(ctx))
}

// GetSubscription implements ledger.Store.
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return getSubscription(s.db.WithContext(ctx), id)
}

type tx struct {
	db *gorm.DB
}

func (t *tx) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return getTransaction(t.db, id)
}

func (t *tx) InsertTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]TransactionModel, len(txs))
	for i, rec := range txs {
		rows[i] = transactionModel(rec)
	}
	if err := t.db.CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, rec domain.Transaction) error {
	row := transactionModel(rec)
	res := t.db.Model(&TransactionModel{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
		"type":         row.Type,
		"amount":       row.Amount,
		"name":         row.Name,
		"category":     row.Category,
		"date":         row.Date,
		"is_necessary": row.IsNecessary,
		"notes":        row.Notes,
	})
	if res.Error != nil {
		return fmt.Errorf("UpdateTransaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Kind: "transaction", ID: rec.ID}
	}
	return nil
}

func (t *tx) DeleteTransaction(ctx context.Context, id string) error {
	res := t.db.Where("id = ?", id).Delete(&TransactionModel{})
	if res.Error != nil {
		return fmt.Errorf("DeleteTransaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Kind: "transaction", ID: id}
	}
	return nil
}

func (t *tx) GetBalance(ctx context.Context) (*domain.Balance, error) {
	return getBalance(t.db)
}

func (t *tx) PutBalance(ctx context.Context, b domain.Balance) error {
	row := BalanceModel{ID: balanceID, CurrentBalance: b.Current, LastUpdated: b.LastUpdated.UTC()}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_balance", "last_updated"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("PutBalance: %w", err)
	}
	return nil
}

func (t *tx) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return listSubscriptions(t.db)
}

func (t *tx) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return getSubscription(t.db, id)
}

func (t *tx) InsertSubscription(ctx context.Context, s domain.Subscription) error {
	row := subscriptionModel(s)
	if err := t.db.Create(&row).Error; err != nil {
		return fmt.Errorf("InsertSubscription: %w", err)
	}
	return nil
}

func (t *tx) UpdateSubscription(ctx context.Context, s domain.Subscription) error {
	row := subscriptionModel(s)
	res := t.db.Model(&SubscriptionModel{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
		"name":             row.Name,
		"amount":           row.Amount,
		"category":         row.Category,
		"frequency":        row.Frequency,
		"start_date":       row.StartDate,
		"is_necessary":     row.IsNecessary,
		"last_billed_date": row.LastBilledDate,
		"notes":            row.Notes,
	})
	if res.Error != nil {
		return fmt.Errorf("UpdateSubscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Kind: "subscription", ID: s.ID}
	}
	return nil
}

func (t *tx) DeleteSubscription(ctx context.Context, id string) error {
	res := t.db.Where("id = ?", id).Delete(&SubscriptionModel{})
	if res.Error != nil {
		return fmt.Errorf("DeleteSubscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Kind: "subscription", ID: id}
	}
	return nil
}

// orderClause renders a ledger.Sort as an ORDER BY expression.
func orderClause(order ledger.Sort) string {
	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	if order.Field == ledger.SortDate {
		return fmt.Sprintf("date %[1]s, created_at %[1]s, id %[1]s", dir)
	}
	return fmt.Sprintf("created_at %[1]s, id %[1]s", dir)
}

func listTransactions(db *gorm.DB, order ledger.Sort, limit int) ([]domain.Transaction, error) {
	q := db.Order(orderClause(order))
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []TransactionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	out := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func getTransaction(db *gorm.DB, id string) (*domain.Transaction, error) {
	var row TransactionModel
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{Kind: "transaction", ID: id}
		}
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	t := row.toDomain()
	return &t, nil
}

func getBalance(db *gorm.DB) (*domain.Balance, error) {
	var row BalanceModel
	if err := db.Where("id = ?", balanceID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return &domain.Balance{Current: row.CurrentBalance, LastUpdated: row.LastUpdated.UTC()}, nil
}

func listSubscriptions(db *gorm.DB) ([]domain.Subscription, error) {
	var rows []SubscriptionModel
	if err := db.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ListSubscriptions: %w", err)
	}
	out := make([]domain.Subscription, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func getSubscription(db *gorm.DB, id string) (*domain.Subscription, error) {
	var row SubscriptionModel
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{Kind: "subscription", ID: id}
		}
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	s := row.toDomain()
	return &s, nil
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*tx)(nil)
)
