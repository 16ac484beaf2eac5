package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money flow for a transaction.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// ParseTransactionType normalizes and validates a transaction type string.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeIncome:
		return TypeIncome, nil
	case TypeExpense:
		return TypeExpense, nil
	}
	return "", &ValidationError{Field: "type", Reason: "must be income or expense, got " + quote(s)}
}

// Transaction is one ledger entry. Amount is always a non-negative magnitude;
// the sign is implied by Type.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Name        string          `json:"name"`
	Category    Category        `json:"category"`
	Date        civil.Date      `json:"date"`
	IsNecessary bool            `json:"is_necessary"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks the write-time invariants of a transaction. It also clears
// IsNecessary on income, where necessity has no meaning.
func (t *Transaction) Validate() error {
	if _, err := ParseTransactionType(string(t.Type)); err != nil {
		return err
	}
	if t.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if !t.Date.IsValid() {
		return &ValidationError{Field: "date", Reason: "is required"}
	}
	if !t.Category.ValidFor(t.Type) {
		return &ValidationError{Field: "category", Reason: quote(string(t.Category)) + " is not a valid " + string(t.Type) + " category"}
	}
	if t.Type == TypeIncome {
		t.IsNecessary = false
	}
	return nil
}

// SignedAmount returns the effect of the transaction on the balance:
// +amount for income, -amount for expense.
func (t Transaction) SignedAmount() decimal.Decimal {
	return SignedAmount(t.Type, t.Amount)
}

// SignedAmount applies the sign implied by typ to amount.
func SignedAmount(typ TransactionType, amount decimal.Decimal) decimal.Decimal {
	if typ == TypeExpense {
		return amount.Neg()
	}
	return amount
}

// SumSigned returns the combined balance effect of txs.
func SumSigned(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.SignedAmount())
	}
	return total
}

// Balance is the single materialized running balance of the ledger.
type Balance struct {
	Current     decimal.Decimal `json:"current_balance"`
	LastUpdated time.Time       `json:"last_updated"`
}

func quote(s string) string {
	return `"` + s + `"`
}
