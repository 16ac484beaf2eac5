package statement

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the MIME type of Excel workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReadXLSX renders the first sheet of an Excel workbook as CSV text so it can
// go through Parse. Rows are padded to a common width; empty rows become
// blank lines.
func ReadXLSX(r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", &domain.FormatError{Reason: fmt.Sprintf("not a readable workbook: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", &domain.FormatError{Reason: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("ReadXLSX: reading sheet %q: %w", sheets[0], err)
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	for _, row := range rows {
		// GetRows drops trailing empty cells.
		if len(row) > 0 && len(row) < width {
			row = append(row, make([]string, width-len(row))...)
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("ReadXLSX: writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("ReadXLSX: flushing: %w", err)
	}
	return b.String(), nil
}

// IsXLSX reports whether data starts like a zip container, which is how
// workbooks are stored.
func IsXLSX(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 3 && data[3] == 4
}
