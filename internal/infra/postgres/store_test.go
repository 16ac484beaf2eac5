package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestTransactionModelMapping(t *testing.T) {
	want := domain.Transaction{
		ID:          "t1",
		Type:        domain.TypeExpense,
		Amount:      decimal.RequireFromString("15.75"),
		Name:        "Taxi",
		Category:    domain.CategoryTransport,
		Date:        civil.Date{Year: 2024, Month: time.December, Day: 31},
		IsNecessary: true,
		Notes:       "airport",
		CreatedAt:   time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC),
	}
	m := transactionModel(want)
	if m.Date.Location() != time.UTC || m.Date.Hour() != 0 {
		t.Errorf("Date = %v, want midnight UTC", m.Date)
	}
	if diff := cmp.Diff(want, m.toDomain(), decimalEqual); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriptionModelMapping(t *testing.T) {
	start := civil.Date{Year: 2024, Month: time.January, Day: 31}
	billed := civil.Date{Year: 2024, Month: time.February, Day: 29}
	want := domain.Subscription{
		ID: "s1", Name: "Streaming", Amount: decimal.RequireFromString("15.99"),
		Category: domain.CategoryEntertainment, Frequency: domain.FrequencyMonthly,
		StartDate: start, LastBilledDate: &billed,
		CreatedAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, subscriptionModel(want).toDomain(), decimalEqual); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}

	want.LastBilledDate = nil
	if m := subscriptionModel(want); m.LastBilledDate != nil {
		t.Errorf("LastBilledDate = %v, want nil", m.LastBilledDate)
	}
}

func TestOrderClause(t *testing.T) {
	tests := []struct {
		sort ledger.Sort
		want string
	}{
		{ledger.DefaultSort, "created_at DESC, id DESC"},
		{ledger.Sort{Field: ledger.SortCreatedAt}, "created_at ASC, id ASC"},
		{ledger.Sort{Field: ledger.SortDate, Desc: true}, "date DESC, created_at DESC, id DESC"},
	}
	for _, tt := range tests {
		if got := orderClause(tt.sort); got != tt.want {
			t.Errorf("orderClause(%v) = %q, want %q", tt.sort, got, tt.want)
		}
	}
}

// TestStore_Ledger runs the ledger against a live database when
// TEST_DATABASE_URL is set. The tables are emptied first.
func TestStore_Ledger(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close()

	for _, m := range Models() {
		if err := store.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			t.Fatalf("clearing %T: %v", m, err)
		}
	}

	l := ledger.New(store)
	if _, err := l.SetBalance(ctx, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("SetBalance() error: %v", err)
	}
	created, err := l.CreateTransaction(ctx, domain.Transaction{
		Type: domain.TypeExpense, Amount: decimal.RequireFromString("25.50"), Name: "Groceries",
		Category: domain.CategoryFood, Date: civil.Date{Year: 2024, Month: time.March, Day: 1}, IsNecessary: true,
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error: %v", err)
	}

	b, err := l.GetBalance(ctx)
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if !b.Current.Equal(decimal.RequireFromString("74.50")) {
		t.Errorf("balance = %s, want 74.50", b.Current)
	}

	if err := l.DeleteTransaction(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTransaction() error: %v", err)
	}
	if err := l.DeleteTransaction(ctx, created.ID); !domain.IsNotFound(err) {
		t.Errorf("second DeleteTransaction() error = %v, want NotFoundError", err)
	}
	b, _ = l.GetBalance(ctx)
	if !b.Current.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance after delete = %s, want 100", b.Current)
	}
}
