// Package statement turns bank statement exports into normalized records.
package statement

import (
	"encoding/csv"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Record is one parsed statement row.
type Record struct {
	// Date is ISO YYYY-MM-DD when the source used DD/MM/YYYY, otherwise the raw value.
	Date   string                 `json:"date"`
	Name   string                 `json:"name"`
	Type   domain.TransactionType `json:"type"`
	Amount decimal.Decimal        `json:"amount"`
}

// CivilDate parses Date as a calendar date.
func (r Record) CivilDate() (civil.Date, error) {
	d, err := civil.ParseDate(r.Date)
	if err != nil {
		return civil.Date{}, &domain.ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", r.Date)}
	}
	return d, nil
}

// Sequence is a lazy, restartable stream of records. Every range re-reads the
// original input from the header onwards.
type Sequence iter.Seq[Record]

// Collect drains the sequence into a slice.
func (s Sequence) Collect() []Record {
	return slices.Collect(iter.Seq[Record](s))
}

// columns holds the indices of the fields a header row names. balance is -1
// when the statement has no running balance column.
type columns struct {
	date, desc, in, out int
	balance             int
}

func (c columns) max() int {
	return max(c.date, c.desc, c.in, c.out)
}

const footerMarker = "this statement"

var (
	dmyPattern     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	parenthetical  = regexp.MustCompile(`\s*\(.*\)\s*$`)
	descNames      = []string{"description", "details", "narrative", "transaction description"}
	moneyInNames   = []string{"money in", "paid in", "credit", "credits"}
	moneyOutNames  = []string{"money out", "paid out", "debit", "debits"}
	balanceNames   = []string{"balance", "running balance"}
	currencySymbol = strings.NewReplacer("€", "", "£", "", "$", "", " ", "", "\u00a0", "", "\t", "")
)

// layout is a statement split at its header row.
type layout struct {
	cols columns
	body []string
}

func locate(raw string) (layout, error) {
	lines := splitLines(raw)
	for i, line := range lines {
		fields, ok := splitCSV(line)
		if !ok {
			continue
		}
		if c, ok := matchHeader(fields); ok {
			return layout{cols: c, body: lines[i+1:]}, nil
		}
	}
	return layout{}, &domain.FormatError{Reason: "no header row with date, description, money in and money out columns"}
}

// rows yields the fields of every body line up to the first blank line or footer.
func (l layout) rows(yield func([]string) bool) {
	for _, line := range l.body {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(strings.ToLower(trimmed), footerMarker) {
			return
		}
		fields, ok := splitCSV(line)
		if !ok {
			continue
		}
		if !yield(fields) {
			return
		}
	}
}

// Parse locates the header row in raw and returns the records that follow it.
// It fails with *domain.FormatError when no header row is found. Rows are
// parsed lazily while the sequence is ranged over.
func Parse(raw string) (Sequence, error) {
	l, err := locate(raw)
	if err != nil {
		return nil, err
	}
	return func(yield func(Record) bool) {
		for fields := range l.rows {
			rec, ok := parseRow(fields, l.cols)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}, nil
}

// ClosingBalance returns the balance column of the last statement row that
// has one. It is nil when the header has no balance column or no row carries
// a readable value.
func ClosingBalance(raw string) (*decimal.Decimal, error) {
	l, err := locate(raw)
	if err != nil {
		return nil, err
	}
	if l.cols.balance < 0 {
		return nil, nil
	}
	var last *decimal.Decimal
	for fields := range l.rows {
		if l.cols.balance >= len(fields) {
			continue
		}
		cell := strings.TrimSpace(fields[l.cols.balance])
		if cell == "" || cell == "-" || cell == "--" {
			continue
		}
		if v, ok := ParseMoney(cell); ok {
			last = &v
		}
	}
	return last, nil
}

// ParseAll is Parse followed by Collect.
func ParseAll(raw string) ([]Record, error) {
	seq, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return seq.Collect(), nil
}

func parseRow(fields []string, cols columns) (Record, bool) {
	if len(fields) <= cols.max() {
		return Record{}, false
	}
	dateRaw := strings.TrimSpace(fields[cols.date])
	if dateRaw == "" {
		return Record{}, false
	}

	name := strings.TrimSpace(fields[cols.desc])
	if name == "" {
		return Record{}, false
	}

	in, okIn := ParseMoney(fields[cols.in])
	out, okOut := ParseMoney(fields[cols.out])
	if !okIn || !okOut {
		return Record{}, false
	}

	rec := Record{
		Date: NormalizeDate(dateRaw),
		Name: name,
	}
	switch {
	case !in.IsZero():
		rec.Type, rec.Amount = domain.TypeIncome, in.Abs()
	case !out.IsZero():
		rec.Type, rec.Amount = domain.TypeExpense, out.Abs()
	default:
		return Record{}, false
	}
	return rec, true
}

func matchHeader(fields []string) (columns, bool) {
	c := columns{date: -1, desc: -1, in: -1, out: -1, balance: -1}
	for i, f := range fields {
		name := normalizeHeader(f)
		switch {
		case name == "":
			continue
		case name == "date" && c.date < 0:
			c.date = i
		case slices.Contains(descNames, name) && c.desc < 0:
			c.desc = i
		case slices.Contains(moneyInNames, name) && c.in < 0:
			c.in = i
		case slices.Contains(moneyOutNames, name) && c.out < 0:
			c.out = i
		case slices.Contains(balanceNames, name) && c.balance < 0:
			c.balance = i
		}
	}
	if c.date < 0 || c.desc < 0 || c.in < 0 || c.out < 0 {
		return columns{}, false
	}
	return c, true
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = parenthetical.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// NormalizeDate converts DD/MM/YYYY to YYYY-MM-DD. Other values pass through unchanged.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	m := dmyPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
}

// ParseMoney parses a statement amount. Currency symbols, whitespace and
// grouping separators are stripped; a lone comma followed by one or two
// digits is read as the decimal point. Blank, "-" and "--" are zero.
// The second result is false when the value is not a number.
func ParseMoney(s string) (decimal.Decimal, bool) {
	s = currencySymbol.Replace(strings.TrimSpace(s))
	if s == "" || s == "-" || s == "--" {
		return decimal.Zero, true
	}
	s = strings.TrimPrefix(s, "+")

	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	if lastDot >= 0 && lastComma > lastDot {
		// 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else if lastDot < 0 && strings.Count(s, ",") == 1 {
		if idx := strings.Index(s, ","); len(s)-idx-1 <= 2 {
			s = s[:idx] + "." + s[idx+1:]
		}
	}
	s = strings.ReplaceAll(s, ",", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	return strings.Split(raw, "\n")
}

func splitCSV(line string) ([]string, bool) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil, false
	}
	return fields, true
}
