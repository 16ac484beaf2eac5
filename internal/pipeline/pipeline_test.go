package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/extraction"
	"github.com/dvloznov/expense-ledger/internal/importer"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/ledger/inmemory"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/statement"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// MockFetcher is a mock implementation of Fetcher for testing.
type MockFetcher struct {
	FetchFunc func(ctx context.Context, gcsURI string) ([]byte, error)
}

func (m *MockFetcher) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	return m.FetchFunc(ctx, gcsURI)
}

// MockExtractor is a mock implementation of extraction.Extractor for testing.
type MockExtractor struct {
	ExtractTextFunc func(ctx context.Context, raw string) (*extraction.Result, error)
	ExtractFileFunc func(ctx context.Context, fileURI, mimeType string) (*extraction.Result, error)
}

func (m *MockExtractor) ExtractText(ctx context.Context, raw string) (*extraction.Result, error) {
	return m.ExtractTextFunc(ctx, raw)
}

func (m *MockExtractor) ExtractFile(ctx context.Context, fileURI, mimeType string) (*extraction.Result, error) {
	return m.ExtractFileFunc(ctx, fileURI, mimeType)
}

const statementCSV = "Date,,Description,Money In (€),Money Out (€)\n01/02/2024,,Coffee,,3.50\n02/02/2024,,Salary,1000,\n"

func newReconciler() *importer.Reconciler {
	return importer.New(ledger.New(inmemory.NewStore()))
}

func TestIngest_RigidParse(t *testing.T) {
	ctx := context.Background()
	runs := pipeline.NewMemoryRunLog()
	ing := pipeline.NewIngestor(newReconciler(), pipeline.WithRunRecorder(runs))

	staged, err := ing.Ingest(ctx, pipeline.Source{Text: statementCSV})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(staged.Entries) != 2 {
		t.Fatalf("staged %d entries, want 2", len(staged.Entries))
	}
	if staged.Source != "pasted text" {
		t.Errorf("Source = %q, want pasted text", staged.Source)
	}

	list, err := runs.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d runs, want 1", len(list))
	}
	run := list[0]
	if run.Status != pipeline.RunStatusSuccess || run.Parser != pipeline.ParserRigid || run.ImportID != staged.ID || run.Records != 2 {
		t.Errorf("run = %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}

func TestIngest_RigidParseKeepsBadRowsReviewable(t *testing.T) {
	ctx := context.Background()
	raw := "Date,,Description,Money In (€),Money Out (€)\n" +
		"2024-02-01,,Coffee,,3.50\n" +
		"02/02/2024,,,,1.00\n" +
		"1 Feb 2024,,Bakery,,2.00\n" +
		"03/02/2024,,Salary,100,\n"
	ing := pipeline.NewIngestor(newReconciler())

	staged, err := ing.Ingest(ctx, pipeline.Source{Text: raw})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(staged.Entries) != 3 {
		t.Fatalf("staged %d entries, want 3 (blank description skipped)", len(staged.Entries))
	}
	bad := staged.Entries[1]
	if bad.Name != "Bakery" || bad.Invalid == "" || bad.Included || bad.RawDate != "1 Feb 2024" {
		t.Errorf("unreadable date entry = %+v", bad)
	}
	for _, i := range []int{0, 2} {
		if e := staged.Entries[i]; e.Invalid != "" || !e.Included {
			t.Errorf("entry %d = %+v", i, e)
		}
	}
}

func TestIngest_RigidParseTakesClosingBalance(t *testing.T) {
	raw := "Date,,Description,Money In (€),Money Out (€),Balance (€)\n" +
		"01/02/2024,,Coffee,,3.50,996.50\n" +
		"02/02/2024,,Salary,1000,,1996.50\n"
	ing := pipeline.NewIngestor(newReconciler())

	staged, err := ing.Ingest(context.Background(), pipeline.Source{Text: raw})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if staged.FinalBalance == nil || !staged.FinalBalance.Equal(decimal.RequireFromString("1996.50")) {
		t.Errorf("FinalBalance = %v, want 1996.50", staged.FinalBalance)
	}
}

func TestIngest_InvalidExtractionRejected(t *testing.T) {
	ext := &MockExtractor{
		ExtractTextFunc: func(ctx context.Context, raw string) (*extraction.Result, error) {
			return &extraction.Result{Records: []statement.Record{
				{Date: "2024-02-01", Name: "Coffee", Type: domain.TypeExpense, Amount: decimal.RequireFromString("3")},
				{Date: "2024-02-02", Name: "Tea", Type: domain.TypeExpense, Amount: decimal.Zero},
			}}, nil
		},
	}
	ing := pipeline.NewIngestor(newReconciler(), pipeline.WithExtractor(ext))

	if _, err := ing.Ingest(context.Background(), pipeline.Source{Text: "free text"}); !domain.IsValidation(err) {
		t.Fatalf("Ingest() error = %v, want ValidationError", err)
	}
}

func TestIngest_FallsBackToExtractor(t *testing.T) {
	ctx := context.Background()
	fb := decimal.RequireFromString("250")
	var called string
	ext := &MockExtractor{
		ExtractTextFunc: func(ctx context.Context, raw string) (*extraction.Result, error) {
			called = raw
			return &extraction.Result{
				Records:      []statement.Record{{Date: "2024-02-01", Name: "Coffee", Type: domain.TypeExpense, Amount: decimal.RequireFromString("3.5")}},
				FinalBalance: &fb,
			}, nil
		},
	}

	runs := pipeline.NewMemoryRunLog()
	ing := pipeline.NewIngestor(newReconciler(), pipeline.WithExtractor(ext), pipeline.WithRunRecorder(runs))

	staged, err := ing.Ingest(ctx, pipeline.Source{Name: "odd.txt", Text: "Coffee 3.50 on the first of February"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if called == "" {
		t.Fatal("extractor was not called")
	}
	if staged.FinalBalance == nil || !staged.FinalBalance.Equal(fb) {
		t.Errorf("FinalBalance = %v, want 250", staged.FinalBalance)
	}
	list, _ := runs.ListRuns(ctx, 0)
	if list[0].Parser != pipeline.ParserLLM {
		t.Errorf("Parser = %q, want %q", list[0].Parser, pipeline.ParserLLM)
	}
}

func TestIngest_FormatErrorWithoutExtractor(t *testing.T) {
	ctx := context.Background()
	runs := pipeline.NewMemoryRunLog()
	ing := pipeline.NewIngestor(newReconciler(), pipeline.WithRunRecorder(runs))

	_, err := ing.Ingest(ctx, pipeline.Source{Text: "no header here"})
	if !domain.IsFormat(err) {
		t.Fatalf("Ingest() error = %v, want FormatError", err)
	}
	list, _ := runs.ListRuns(ctx, 0)
	if len(list) != 1 || list[0].Status != pipeline.RunStatusFailed || list[0].ErrorMessage == "" {
		t.Errorf("runs = %+v, want one FAILED run with a message", list)
	}
}

func TestIngest_GCSSource(t *testing.T) {
	ctx := context.Background()
	fetcher := &MockFetcher{
		FetchFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
			if gcsURI != "gs://bucket/statements/feb.csv" {
				t.Errorf("Fetch() uri = %q", gcsURI)
			}
			return []byte(statementCSV), nil
		},
	}
	ing := pipeline.NewIngestor(newReconciler(), pipeline.WithFetcher(fetcher))

	staged, err := ing.Ingest(ctx, pipeline.Source{GCSURI: "gs://bucket/statements/feb.csv", MimeType: "text/csv"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if staged.Source != "feb.csv" || len(staged.Entries) != 2 {
		t.Errorf("staged = %+v", staged)
	}
}

func TestIngest_GCSWithoutFetcher(t *testing.T) {
	ing := pipeline.NewIngestor(newReconciler())
	_, err := ing.Ingest(context.Background(), pipeline.Source{GCSURI: "gs://bucket/a.csv"})
	if !domain.IsValidation(err) {
		t.Errorf("Ingest() error = %v, want ValidationError", err)
	}
}

func TestIngest_FetchFailure(t *testing.T) {
	fetcher := &MockFetcher{
		FetchFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
			return nil, &domain.ExternalServiceError{Service: "gcs", Op: "read", Err: errors.New("forbidden")}
		},
	}
	ing := pipeline.NewIngestor(newReconciler(), pipeline.WithFetcher(fetcher))
	_, err := ing.Ingest(context.Background(), pipeline.Source{GCSURI: "gs://bucket/a.csv"})
	if !domain.IsExternal(err) {
		t.Errorf("Ingest() error = %v, want ExternalServiceError", err)
	}
}

func TestIngest_PDFUsesExtractFile(t *testing.T) {
	ctx := context.Background()
	var gotURI, gotMime string
	ext := &MockExtractor{
		ExtractFileFunc: func(ctx context.Context, fileURI, mimeType string) (*extraction.Result, error) {
			gotURI, gotMime = fileURI, mimeType
			return &extraction.Result{Records: []statement.Record{{Date: "2024-02-01", Name: "Rent", Type: domain.TypeExpense, Amount: decimal.NewFromInt(900)}}}, nil
		},
	}
	fetcher := &MockFetcher{
		FetchFunc: func(ctx context.Context, gcsURI string) ([]byte, error) { return []byte("%PDF-1.7"), nil },
	}
	ing := pipeline.NewIngestor(newReconciler(), pipeline.WithFetcher(fetcher), pipeline.WithExtractor(ext))

	if _, err := ing.Ingest(ctx, pipeline.Source{GCSURI: "gs://b/s.pdf", MimeType: "application/pdf"}); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if gotURI != "gs://b/s.pdf" || gotMime != "application/pdf" {
		t.Errorf("ExtractFile(%q, %q)", gotURI, gotMime)
	}
}

func TestIngest_Spreadsheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Date", "", "Description", "Money In (€)", "Money Out (€)"},
		{"01/02/2024", "", "Coffee", "", "3.50"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error: %v", err)
	}

	ing := pipeline.NewIngestor(newReconciler())
	staged, err := ing.Ingest(context.Background(), pipeline.Source{Name: "feb.xlsx", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(staged.Entries) != 1 || staged.Entries[0].Name != "Coffee" {
		t.Errorf("staged = %+v", staged.Entries)
	}
}

func TestIngest_EmptySource(t *testing.T) {
	ing := pipeline.NewIngestor(newReconciler())
	if _, err := ing.Ingest(context.Background(), pipeline.Source{}); !domain.IsValidation(err) {
		t.Errorf("Ingest() error = %v, want ValidationError", err)
	}
}

func TestTruncateError(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	if got := pipeline.TruncateError(errors.New(string(long))); len(got) != 2000 {
		t.Errorf("len = %d, want 2000", len(got))
	}
	if got := pipeline.TruncateError(nil); got != "" {
		t.Errorf("TruncateError(nil) = %q", got)
	}
}

func TestHandleExtractJob(t *testing.T) {
	ctx := context.Background()
	var rigidSkipped bool
	ext := &MockExtractor{
		ExtractTextFunc: func(ctx context.Context, raw string) (*extraction.Result, error) {
			rigidSkipped = raw == statementCSV
			return &extraction.Result{Records: []statement.Record{{Date: "2024-02-01", Name: "Coffee", Type: domain.TypeExpense, Amount: decimal.RequireFromString("3.5")}}}, nil
		},
	}
	rec := newReconciler()
	ing := pipeline.NewIngestor(rec, pipeline.WithExtractor(ext))

	job := &jobs.ExtractStatementJob{JobID: "j1", Source: "pasted", Text: statementCSV}
	if err := ing.HandleExtractJob(ctx, job); err != nil {
		t.Fatalf("HandleExtractJob() error: %v", err)
	}
	if !rigidSkipped {
		t.Error("extractor did not receive the raw text")
	}
	staged, err := rec.Get(job.ImportID)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", job.ImportID, err)
	}
	if len(staged.Entries) != 1 || staged.Source != "pasted" {
		t.Errorf("staged = %+v", staged)
	}
}

func TestHandleExtractJob_NoExtractor(t *testing.T) {
	ing := pipeline.NewIngestor(newReconciler())
	err := ing.HandleExtractJob(context.Background(), &jobs.ExtractStatementJob{Text: "x"})
	if !domain.IsValidation(err) {
		t.Errorf("HandleExtractJob() error = %v, want ValidationError", err)
	}
}
