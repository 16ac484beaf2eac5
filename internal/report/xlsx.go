package report

import (
	"fmt"
	"io"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the MIME type of the exported workbook.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet names of the exported workbook.
const (
	SheetTransactions = "Transactions"
	SheetCategories   = "Categories"
	SheetMonthly      = "Monthly"
)

// WriteXLSX writes rep and txs as an Excel workbook with one sheet each for
// transactions, category totals and monthly trends.
func WriteXLSX(w io.Writer, rep Report, txs []domain.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetTransactions); err != nil {
		return fmt.Errorf("WriteXLSX: renaming sheet: %w", err)
	}
	for _, name := range []string{SheetCategories, SheetMonthly} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("WriteXLSX: creating sheet %s: %w", name, err)
		}
	}

	txRows := [][]interface{}{{"Date", "Name", "Type", "Category", "Amount", "Necessary", "Notes"}}
	for _, t := range txs {
		amount, _ := t.Amount.Float64()
		txRows = append(txRows, []interface{}{
			t.Date.String(), t.Name, string(t.Type), string(t.Category), amount, t.IsNecessary, t.Notes,
		})
	}
	if err := writeRows(f, SheetTransactions, txRows); err != nil {
		return err
	}

	catRows := [][]interface{}{{"Category", "Amount", "Percentage", "Count"}}
	for _, c := range rep.Categories {
		amount, _ := c.Amount.Float64()
		pct, _ := c.Percentage.Float64()
		catRows = append(catRows, []interface{}{string(c.Category), amount, pct, c.Count})
	}
	if err := writeRows(f, SheetCategories, catRows); err != nil {
		return err
	}

	monthRows := [][]interface{}{{"Month", "Income", "Expenses", "Net"}}
	for _, m := range rep.Monthly {
		in, _ := m.Income.Float64()
		out, _ := m.Expenses.Float64()
		net, _ := m.Net.Float64()
		monthRows = append(monthRows, []interface{}{m.Month, in, out, net})
	}
	if err := writeRows(f, SheetMonthly, monthRows); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("WriteXLSX: writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("writeRows: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("writeRows: sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
