package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Frequency is the billing period of a subscription.
type Frequency string

const (
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// ParseFrequency normalizes and validates a frequency string.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FrequencyMonthly:
		return FrequencyMonthly, nil
	case FrequencyYearly:
		return FrequencyYearly, nil
	}
	return "", &ValidationError{Field: "frequency", Reason: "must be monthly or yearly, got " + quote(s)}
}

// Subscription is a recurring expense materialized into transactions by the biller.
// LastBilledDate is the billing cursor; nil means never billed.
type Subscription struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Amount         decimal.Decimal `json:"amount"`
	Category       Category        `json:"category"`
	Frequency      Frequency       `json:"frequency"`
	StartDate      civil.Date      `json:"start_date"`
	IsNecessary    bool            `json:"is_necessary"`
	LastBilledDate *civil.Date     `json:"last_billed_date,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate checks the write-time invariants of a subscription.
func (s *Subscription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if s.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if _, err := ParseFrequency(string(s.Frequency)); err != nil {
		return err
	}
	if !s.StartDate.IsValid() {
		return &ValidationError{Field: "start_date", Reason: "is required"}
	}
	if !s.Category.ValidFor(TypeExpense) {
		return &ValidationError{Field: "category", Reason: quote(string(s.Category)) + " is not a valid expense category"}
	}
	return nil
}

// Cursor returns the date billing advances from: the last billed date, or
// the start date when the subscription was never billed.
func (s Subscription) Cursor() civil.Date {
	if s.LastBilledDate != nil {
		return *s.LastBilledDate
	}
	return s.StartDate
}

// AddMonthsClamped moves d by n months and sets the day to anchorDay, clamped
// to the last day of the resulting month.
func AddMonthsClamped(d civil.Date, n int, anchorDay int) civil.Date {
	total := int(d.Month) - 1 + n
	year := d.Year + total/12
	month := total % 12
	if month < 0 {
		month += 12
		year--
	}
	m := time.Month(month + 1)
	day := anchorDay
	if last := DaysInMonth(year, m); day > last {
		day = last
	}
	return civil.Date{Year: year, Month: m, Day: day}
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
