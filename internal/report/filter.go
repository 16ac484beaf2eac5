package report

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
)

// Range is a relative date window.
type Range string

const (
	RangeAll       Range = ""
	RangeThisMonth Range = "this_month"
	RangeLastMonth Range = "last_month"
	RangeThisYear  Range = "this_year"
)

// Necessity filter values.
const (
	NecessityAny         = ""
	NecessityNecessary   = "necessary"
	NecessityUnnecessary = "unnecessary"
)

// Filter narrows a transaction list. Zero fields match everything.
type Filter struct {
	Type      domain.TransactionType
	Category  domain.Category
	Necessity string
	Range     Range
}

// ParseFilter builds a Filter from query-string style values.
func ParseFilter(typ, category, necessity, rng string) (Filter, error) {
	var f Filter
	if typ = strings.TrimSpace(typ); typ != "" && typ != "all" {
		t, err := domain.ParseTransactionType(typ)
		if err != nil {
			return Filter{}, err
		}
		f.Type = t
	}
	if category = strings.ToLower(strings.TrimSpace(category)); category != "" && category != "all" {
		c := domain.Category(category)
		if !c.ValidFor(domain.TypeIncome) && !c.ValidFor(domain.TypeExpense) {
			return Filter{}, &domain.ValidationError{Field: "category", Reason: "unknown category " + category}
		}
		f.Category = c
	}
	switch n := strings.ToLower(strings.TrimSpace(necessity)); n {
	case "", "all":
	case NecessityNecessary, NecessityUnnecessary:
		f.Necessity = n
	default:
		return Filter{}, &domain.ValidationError{Field: "necessity", Reason: "must be necessary or unnecessary"}
	}
	switch r := Range(strings.ToLower(strings.TrimSpace(rng))); r {
	case RangeAll, "all":
	case RangeThisMonth, RangeLastMonth, RangeThisYear:
		f.Range = r
	default:
		return Filter{}, &domain.ValidationError{Field: "range", Reason: "must be this_month, last_month or this_year"}
	}
	return f, nil
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Matcher returns a predicate for f evaluated against now.
func (f Filter) Matcher(now time.Time) func(domain.Transaction) bool {
	from, to, bounded := f.window(now)
	return func(t domain.Transaction) bool {
		if f.Type != "" && t.Type != f.Type {
			return false
		}
		if f.Category != "" && t.Category != f.Category {
			return false
		}
		switch f.Necessity {
		case NecessityNecessary:
			if !t.IsNecessary {
				return false
			}
		case NecessityUnnecessary:
			if t.IsNecessary {
				return false
			}
		}
		if bounded && (t.Date.Before(from) || t.Date.After(to)) {
			return false
		}
		return true
	}
}

// Apply returns the transactions f matches.
func (f Filter) Apply(txs []domain.Transaction, now time.Time) []domain.Transaction {
	match := f.Matcher(now)
	out := make([]domain.Transaction, 0, len(txs))
	for _, t := range txs {
		if match(t) {
			out = append(out, t)
		}
	}
	return out
}

// window returns the inclusive date bounds of the range.
func (f Filter) window(now time.Time) (from, to civil.Date, bounded bool) {
	today := civil.DateOf(now)
	switch f.Range {
	case RangeThisMonth:
		from = civil.Date{Year: today.Year, Month: today.Month, Day: 1}
	case RangeLastMonth:
		from = domain.AddMonthsClamped(civil.Date{Year: today.Year, Month: today.Month, Day: 1}, -1, 1)
	case RangeThisYear:
		from = civil.Date{Year: today.Year, Month: time.January, Day: 1}
		return from, civil.Date{Year: today.Year, Month: time.December, Day: 31}, true
	default:
		return civil.Date{}, civil.Date{}, false
	}
	to = civil.Date{Year: from.Year, Month: from.Month, Day: domain.DaysInMonth(from.Year, from.Month)}
	return from, to, true
}
