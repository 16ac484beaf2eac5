package extraction

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/statement"
	"github.com/shopspring/decimal"
)

// Result is what an extraction produces: validated records plus the closing
// balance printed on the statement, when the statement shows one.
type Result struct {
	Records      []statement.Record
	FinalBalance *decimal.Decimal
}

// Extractor turns statements that rigid parsing cannot handle into records.
type Extractor interface {
	ExtractText(ctx context.Context, raw string) (*Result, error)
	ExtractFile(ctx context.Context, fileURI, mimeType string) (*Result, error)
}

// Validate applies the rigid parser's rules to extracted records. The first
// invalid record is reported as a ValidationError naming its index.
func Validate(recs []statement.Record) ([]statement.Record, error) {
	return statement.ValidateAll(recs)
}

// transformModelOutput converts the decoded model reply into an unvalidated Result.
func transformModelOutput(parsed map[string]interface{}) (*Result, error) {
	rawTxs, ok := parsed["transactions"]
	if !ok {
		return nil, fmt.Errorf("missing transactions in model output")
	}
	items, ok := rawTxs.([]interface{})
	if !ok {
		return nil, fmt.Errorf("transactions is not an array")
	}

	recs := make([]statement.Record, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transactions[%d] is not an object", i)
		}
		rec, err := recordFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		recs = append(recs, rec)
	}

	finalBalance, err := getOptionalDecimalField(parsed, "final_balance")
	if err != nil {
		return nil, err
	}

	return &Result{Records: recs, FinalBalance: finalBalance}, nil
}

func recordFromMap(m map[string]interface{}) (statement.Record, error) {
	date, err := getStringField(m, "date")
	if err != nil {
		return statement.Record{}, err
	}
	name, err := getStringField(m, "name")
	if err != nil {
		return statement.Record{}, err
	}
	typ, err := getStringField(m, "type")
	if err != nil {
		return statement.Record{}, err
	}
	amount, err := getDecimalField(m, "amount")
	if err != nil {
		return statement.Record{}, err
	}
	return statement.Record{
		Date:   date,
		Name:   name,
		Type:   domain.TransactionType(strings.ToLower(strings.TrimSpace(typ))),
		Amount: amount.Abs(),
	}, nil
}

func getStringField(m map[string]interface{}, key string) (string, error) {
	val, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing required field: %s", key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("field %s is not a string", key)
	}
	return str, nil
}

// getDecimalField accepts a JSON number or a numeric string, since models
// sometimes quote amounts despite the schema.
func getDecimalField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	val, ok := m[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("missing required field: %s", key)
	}
	switch v := val.(type) {
	case float64:
		// Round-trip through the shortest decimal form to avoid binary noise.
		return decimal.RequireFromString(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case string:
		d, ok := statement.ParseMoney(v)
		if !ok {
			return decimal.Zero, fmt.Errorf("field %s is not a number: %q", key, v)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %s is not a number", key)
	}
}

func getOptionalDecimalField(m map[string]interface{}, key string) (*decimal.Decimal, error) {
	val, ok := m[key]
	if !ok || val == nil {
		return nil, nil
	}
	d, err := getDecimalField(m, key)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
