package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func validTransaction() Transaction {
	return Transaction{
		Type:        TypeExpense,
		Amount:      decimal.RequireFromString("3.50"),
		Name:        "Coffee",
		Category:    CategoryFood,
		Date:        civil.Date{Year: 2024, Month: time.February, Day: 1},
		IsNecessary: true,
	}
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Transaction)
		wantField string
	}{
		{"valid", func(*Transaction) {}, ""},
		{"negative amount", func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-1) }, "amount"},
		{"zero amount allowed", func(tx *Transaction) { tx.Amount = decimal.Zero }, ""},
		{"bad type", func(tx *Transaction) { tx.Type = "transfer" }, "type"},
		{"income category on expense", func(tx *Transaction) { tx.Category = CategorySalary }, "category"},
		{"unknown category", func(tx *Transaction) { tx.Category = "other" }, "category"},
		{"empty name", func(tx *Transaction) { tx.Name = "  " }, "name"},
		{"missing date", func(tx *Transaction) { tx.Date = civil.Date{} }, "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Validate() field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestTransactionValidate_ClearsNecessityOnIncome(t *testing.T) {
	tx := validTransaction()
	tx.Type = TypeIncome
	tx.Category = CategorySalary
	tx.IsNecessary = true

	if err := tx.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if tx.IsNecessary {
		t.Error("expected IsNecessary to be cleared for income")
	}
}

func TestSignedAmount(t *testing.T) {
	in := Transaction{Type: TypeIncome, Amount: decimal.NewFromInt(5)}
	out := Transaction{Type: TypeExpense, Amount: decimal.NewFromInt(10)}

	if got := in.SignedAmount(); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("income SignedAmount() = %s, want 5", got)
	}
	if got := out.SignedAmount(); !got.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expense SignedAmount() = %s, want -10", got)
	}
	if got := SumSigned([]Transaction{in, out, out}); !got.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("SumSigned() = %s, want -15", got)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		typ     TransactionType
		input   string
		want    Category
		wantErr bool
	}{
		{TypeIncome, "Salary", CategorySalary, false},
		{TypeIncome, " other_income ", CategoryOtherIncome, false},
		{TypeIncome, "food", "", true},
		{TypeExpense, "RENT", CategoryRent, false},
		{TypeExpense, "gift", "", true},
		{"", "food", "", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.typ, tt.input), func(t *testing.T) {
			got, err := ParseCategory(tt.typ, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCategory() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCategory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultCategory(t *testing.T) {
	if got := DefaultCategory(TypeIncome); got != CategoryOtherIncome {
		t.Errorf("DefaultCategory(income) = %q", got)
	}
	if got := DefaultCategory(TypeExpense); got != CategoryOtherExpense {
		t.Errorf("DefaultCategory(expense) = %q", got)
	}
}

func TestAddMonthsClamped(t *testing.T) {
	d := func(y int, m time.Month, day int) civil.Date { return civil.Date{Year: y, Month: m, Day: day} }

	tests := []struct {
		name   string
		from   civil.Date
		months int
		anchor int
		want   civil.Date
	}{
		{"leap february clamp", d(2024, time.January, 31), 1, 31, d(2024, time.February, 29)},
		{"anchor restores day", d(2024, time.February, 29), 1, 31, d(2024, time.March, 31)},
		{"thirty day month", d(2024, time.March, 31), 1, 31, d(2024, time.April, 30)},
		{"year rollover", d(2024, time.December, 15), 1, 15, d(2025, time.January, 15)},
		{"yearly from leap day", d(2024, time.February, 29), 12, 29, d(2025, time.February, 28)},
		{"negative months", d(2024, time.January, 10), -1, 10, d(2023, time.December, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddMonthsClamped(tt.from, tt.months, tt.anchor); got != tt.want {
				t.Errorf("AddMonthsClamped() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSubscriptionValidate(t *testing.T) {
	sub := Subscription{
		Name:      "Netflix",
		Amount:    decimal.RequireFromString("12.99"),
		Category:  CategoryEntertainment,
		Frequency: FrequencyMonthly,
		StartDate: civil.Date{Year: 2024, Month: time.January, Day: 1},
	}
	if err := sub.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	sub.Category = CategorySalary
	if err := sub.Validate(); !IsValidation(err) {
		t.Errorf("Validate() error = %v, want ValidationError for income category", err)
	}

	sub.Category = CategoryEntertainment
	sub.Frequency = "weekly"
	if err := sub.Validate(); !IsValidation(err) {
		t.Errorf("Validate() error = %v, want ValidationError for weekly", err)
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", &NotFoundError{Kind: "transaction", ID: "abc"})
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound() = false for wrapped NotFoundError")
	}
	if IsValidation(wrapped) {
		t.Error("IsValidation() = true for NotFoundError")
	}

	ext := &ExternalServiceError{Service: "gemini", Op: "generate", Err: errors.New("quota")}
	if !IsExternal(fmt.Errorf("x: %w", ext)) {
		t.Error("IsExternal() = false for wrapped ExternalServiceError")
	}
	if errors.Unwrap(ext).Error() != "quota" {
		t.Error("ExternalServiceError does not unwrap to its cause")
	}
	if !IsFormat(&FormatError{Reason: "no header"}) {
		t.Error("IsFormat() = false for FormatError")
	}
}
