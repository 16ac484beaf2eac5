package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/shopspring/decimal"
)

// numericScale is the fixed scale of the BigQuery NUMERIC type.
const numericScale = 9

// TransactionRow mirrors a row of the transactions table.
type TransactionRow struct {
	TransactionID string     `bigquery:"transaction_id"` // REQUIRED
	Type          string     `bigquery:"type"`           // REQUIRED
	Amount        *big.Rat   `bigquery:"amount"`         // NUMERIC, REQUIRED
	Name          string     `bigquery:"name"`           // REQUIRED
	Category      string     `bigquery:"category"`       // REQUIRED
	Date          civil.Date `bigquery:"date"`           // REQUIRED
	IsNecessary   bool       `bigquery:"is_necessary"`
	Notes         string     `bigquery:"notes"` // NULLABLE
	CreatedAt     time.Time  `bigquery:"created_at"`
}

// SubscriptionRow mirrors a row of the subscriptions table.
type SubscriptionRow struct {
	SubscriptionID string            `bigquery:"subscription_id"` // REQUIRED
	Name           string            `bigquery:"name"`
	Amount         *big.Rat          `bigquery:"amount"` // NUMERIC
	Category       string            `bigquery:"category"`
	Frequency      string            `bigquery:"frequency"`
	StartDate      civil.Date        `bigquery:"start_date"`
	IsNecessary    bool              `bigquery:"is_necessary"`
	LastBilledDate bigquery.NullDate `bigquery:"last_billed_date"` // NULLABLE
	Notes          string            `bigquery:"notes"`            // NULLABLE
	CreatedAt      time.Time         `bigquery:"created_at"`
}

// BalanceRow mirrors the single row of the balance table.
type BalanceRow struct {
	BalanceID      string    `bigquery:"balance_id"`
	CurrentBalance *big.Rat  `bigquery:"current_balance"` // NUMERIC
	LastUpdated    time.Time `bigquery:"last_updated"`
}

// ImportRunRow mirrors a row of the import_runs table.
type ImportRunRow struct {
	RunID        string                 `bigquery:"run_id"` // REQUIRED
	Source       string                 `bigquery:"source"`
	GCSURI       string                 `bigquery:"gcs_uri"` // NULLABLE
	Parser       string                 `bigquery:"parser"`  // NULLABLE
	Status       string                 `bigquery:"status"`
	ImportID     string                 `bigquery:"import_id"` // NULLABLE
	Records      int64                  `bigquery:"records"`
	ErrorMessage string                 `bigquery:"error_message"` // NULLABLE
	StartedAt    time.Time              `bigquery:"started_at"`
	FinishedAt   bigquery.NullTimestamp `bigquery:"finished_at"` // NULLABLE
}

func toNumeric(d decimal.Decimal) *big.Rat {
	return d.Round(numericScale).Rat()
}

func fromNumeric(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("converting NUMERIC %s: %w", r.String(), err)
	}
	return d, nil
}

func transactionToRow(t domain.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionID: t.ID,
		Type:          string(t.Type),
		Amount:        toNumeric(t.Amount),
		Name:          t.Name,
		Category:      string(t.Category),
		Date:          t.Date,
		IsNecessary:   t.IsNecessary,
		Notes:         t.Notes,
		CreatedAt:     t.CreatedAt.UTC(),
	}
}

func (r *TransactionRow) toDomain() (domain.Transaction, error) {
	amount, err := fromNumeric(r.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", r.TransactionID, err)
	}
	return domain.Transaction{
		ID:          r.TransactionID,
		Type:        domain.TransactionType(r.Type),
		Amount:      amount,
		Name:        r.Name,
		Category:    domain.Category(r.Category),
		Date:        r.Date,
		IsNecessary: r.IsNecessary,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt.UTC(),
	}, nil
}

func subscriptionToRow(s domain.Subscription) *SubscriptionRow {
	row := &SubscriptionRow{
		SubscriptionID: s.ID,
		Name:           s.Name,
		Amount:         toNumeric(s.Amount),
		Category:       string(s.Category),
		Frequency:      string(s.Frequency),
		StartDate:      s.StartDate,
		IsNecessary:    s.IsNecessary,
		Notes:          s.Notes,
		CreatedAt:      s.CreatedAt.UTC(),
	}
	if s.LastBilledDate != nil {
		row.LastBilledDate = bigquery.NullDate{Date: *s.LastBilledDate, Valid: true}
	}
	return row
}

func (r *SubscriptionRow) toDomain() (domain.Subscription, error) {
	amount, err := fromNumeric(r.Amount)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription %s: %w", r.SubscriptionID, err)
	}
	s := domain.Subscription{
		ID:          r.SubscriptionID,
		Name:        r.Name,
		Amount:      amount,
		Category:    domain.Category(r.Category),
		Frequency:   domain.Frequency(r.Frequency),
		StartDate:   r.StartDate,
		IsNecessary: r.IsNecessary,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.LastBilledDate.Valid {
		d := r.LastBilledDate.Date
		s.LastBilledDate = &d
	}
	return s, nil
}

func (r *BalanceRow) toDomain() (domain.Balance, error) {
	current, err := fromNumeric(r.CurrentBalance)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("balance: %w", err)
	}
	return domain.Balance{Current: current, LastUpdated: r.LastUpdated.UTC()}, nil
}

func (r *ImportRunRow) toRun() pipeline.ImportRun {
	run := pipeline.ImportRun{
		RunID:        r.RunID,
		Source:       r.Source,
		GCSURI:       r.GCSURI,
		Parser:       r.Parser,
		Status:       r.Status,
		ImportID:     r.ImportID,
		Records:      int(r.Records),
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt.UTC(),
	}
	if r.FinishedAt.Valid {
		ts := r.FinishedAt.Timestamp.UTC()
		run.FinishedAt = &ts
	}
	return run
}
