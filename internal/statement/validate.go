package statement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// Validate applies the rules rigid parsing guarantees to a record produced
// elsewhere: a YYYY-MM-DD date (DD/MM/YYYY is normalized first), a known type,
// a positive amount and a non-empty name. It returns the normalized record.
func Validate(r Record) (Record, error) {
	r.Date = NormalizeDate(r.Date)
	if _, err := r.CivilDate(); err != nil {
		return Record{}, err
	}
	typ, err := domain.ParseTransactionType(string(r.Type))
	if err != nil {
		return Record{}, err
	}
	r.Type = typ
	if !r.Amount.IsPositive() {
		return Record{}, &domain.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return Record{}, &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	return r, nil
}

// ValidateAll validates every record and reports the first failure with its index.
func ValidateAll(recs []Record) ([]Record, error) {
	out := make([]Record, len(recs))
	for i, r := range recs {
		v, err := Validate(r)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return nil, &domain.ValidationError{Field: fmt.Sprintf("records[%d].%s", i, ve.Field), Reason: ve.Reason}
			}
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
