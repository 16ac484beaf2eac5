package report

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the headline figures over a set of transactions.
type Totals struct {
	Income    decimal.Decimal `json:"income"`
	Expenses  decimal.Decimal `json:"expenses"`
	Necessary decimal.Decimal `json:"necessary"`
	Optional  decimal.Decimal `json:"optional"`
	Net       decimal.Decimal `json:"net"`
	Count     int             `json:"count"`
}

// CategoryTotal is the expense total of one category.
type CategoryTotal struct {
	Category   domain.Category `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
	Count      int             `json:"count"`
}

// Necessity splits expenses into necessary and optional spending.
type Necessity struct {
	Necessary           decimal.Decimal `json:"necessary"`
	Optional            decimal.Decimal `json:"optional"`
	NecessaryPercentage decimal.Decimal `json:"necessary_percentage"`
	OptionalPercentage  decimal.Decimal `json:"optional_percentage"`
}

// MonthTotal is income and expenses within one calendar month.
type MonthTotal struct {
	Month    string          `json:"month"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
}

// Report bundles every aggregation shown on the dashboard.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Totals      Totals          `json:"totals"`
	ThisMonth   Totals          `json:"this_month"`
	Categories  []CategoryTotal `json:"categories"`
	Necessity   Necessity       `json:"necessity"`
	Monthly     []MonthTotal    `json:"monthly"`
}

// Summarize totals income, expenses and the necessary/optional split of expenses.
func Summarize(txs []domain.Transaction) Totals {
	t := Totals{
		Income:    decimal.Zero,
		Expenses:  decimal.Zero,
		Necessary: decimal.Zero,
		Optional:  decimal.Zero,
		Count:     len(txs),
	}
	for _, tx := range txs {
		switch tx.Type {
		case domain.TypeIncome:
			t.Income = t.Income.Add(tx.Amount)
		case domain.TypeExpense:
			t.Expenses = t.Expenses.Add(tx.Amount)
			if tx.IsNecessary {
				t.Necessary = t.Necessary.Add(tx.Amount)
			} else {
				t.Optional = t.Optional.Add(tx.Amount)
			}
		}
	}
	t.Net = t.Income.Sub(t.Expenses)
	return t
}

// ByCategory returns expense totals per category, largest first. Percentages
// are of total expenses.
func ByCategory(txs []domain.Transaction) []CategoryTotal {
	totals := make(map[domain.Category]*CategoryTotal)
	all := decimal.Zero
	for _, tx := range txs {
		if tx.Type != domain.TypeExpense {
			continue
		}
		ct, ok := totals[tx.Category]
		if !ok {
			ct = &CategoryTotal{Category: tx.Category, Amount: decimal.Zero}
			totals[tx.Category] = ct
		}
		ct.Amount = ct.Amount.Add(tx.Amount)
		ct.Count++
		all = all.Add(tx.Amount)
	}

	out := make([]CategoryTotal, 0, len(totals))
	for _, ct := range totals {
		ct.Percentage = percentage(ct.Amount, all)
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// NecessitySplit returns the necessary and optional share of expenses.
func NecessitySplit(txs []domain.Transaction) Necessity {
	t := Summarize(txs)
	return Necessity{
		Necessary:           t.Necessary,
		Optional:            t.Optional,
		NecessaryPercentage: percentage(t.Necessary, t.Expenses),
		OptionalPercentage:  percentage(t.Optional, t.Expenses),
	}
}

// MonthlyTrends groups transactions by YYYY-MM, oldest month first.
func MonthlyTrends(txs []domain.Transaction) []MonthTotal {
	months := make(map[string]*MonthTotal)
	for _, tx := range txs {
		key := monthKey(tx.Date)
		m, ok := months[key]
		if !ok {
			m = &MonthTotal{Month: key, Income: decimal.Zero, Expenses: decimal.Zero}
			months[key] = m
		}
		switch tx.Type {
		case domain.TypeIncome:
			m.Income = m.Income.Add(tx.Amount)
		case domain.TypeExpense:
			m.Expenses = m.Expenses.Add(tx.Amount)
		}
	}

	out := make([]MonthTotal, 0, len(months))
	for _, m := range months {
		m.Net = m.Income.Sub(m.Expenses)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// ThisMonth summarizes the transactions dated in the calendar month of now.
func ThisMonth(txs []domain.Transaction, now time.Time) Totals {
	return Summarize(Filter{Range: RangeThisMonth}.Apply(txs, now))
}

// Build computes the full report over txs.
func Build(txs []domain.Transaction, now time.Time) Report {
	return Report{
		GeneratedAt: now.UTC(),
		Totals:      Summarize(txs),
		ThisMonth:   ThisMonth(txs, now),
		Categories:  ByCategory(txs),
		Necessity:   NecessitySplit(txs),
		Monthly:     MonthlyTrends(txs),
	}
}

func monthKey(d civil.Date) string {
	return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
}

// percentage returns part/whole*100 rounded to 2 places, or 0 when whole is zero.
func percentage(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, 2)
}
