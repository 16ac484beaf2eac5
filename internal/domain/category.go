package domain

import (
	"strings"
)

// Category is a transaction category. Income and expense use disjoint vocabularies.
type Category string

// Income categories.
const (
	CategorySalary      Category = "salary"
	CategoryFreelance   Category = "freelance"
	CategoryInvestment  Category = "investment"
	CategoryGift        Category = "gift"
	CategoryOtherIncome Category = "other_income"
)

// Expense categories.
const (
	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryUtilities     Category = "utilities"
	CategoryEntertainment Category = "entertainment"
	CategoryShopping      Category = "shopping"
	CategoryHealthcare    Category = "healthcare"
	CategoryEducation     Category = "education"
	CategoryRent          Category = "rent"
	CategoryInsurance     Category = "insurance"
	CategoryOtherExpense  Category = "other_expense"
)

var incomeCategories = []Category{
	CategorySalary,
	CategoryFreelance,
	CategoryInvestment,
	CategoryGift,
	CategoryOtherIncome,
}

var expenseCategories = []Category{
	CategoryFood,
	CategoryTransport,
	CategoryUtilities,
	CategoryEntertainment,
	CategoryShopping,
	CategoryHealthcare,
	CategoryEducation,
	CategoryRent,
	CategoryInsurance,
	CategoryOtherExpense,
}

// Categories returns the vocabulary for the given transaction type.
func Categories(t TransactionType) []Category {
	var src []Category
	switch t {
	case TypeIncome:
		src = incomeCategories
	case TypeExpense:
		src = expenseCategories
	default:
		return nil
	}
	out := make([]Category, len(src))
	copy(out, src)
	return out
}

// DefaultCategory is the fallback category assigned to imported records.
func DefaultCategory(t TransactionType) Category {
	if t == TypeIncome {
		return CategoryOtherIncome
	}
	return CategoryOtherExpense
}

// ValidFor reports whether c belongs to the vocabulary of t.
func (c Category) ValidFor(t TransactionType) bool {
	for _, v := range Categories(t) {
		if v == c {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s and validates it against the vocabulary of t.
func ParseCategory(t TransactionType, s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.ValidFor(t) {
		return "", &ValidationError{Field: "category", Reason: quote(s) + " is not a valid " + string(t) + " category"}
	}
	return c, nil
}
