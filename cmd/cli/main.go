package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/expense-ledger/internal/app"
	"github.com/dvloznov/expense-ledger/internal/billing"
	"github.com/dvloznov/expense-ledger/internal/config"
	"github.com/dvloznov/expense-ledger/internal/importer"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/report"
	"github.com/dvloznov/expense-ledger/internal/statement"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	switch os.Args[1] {
	case "import":
		runImport(log, cfg)
	case "bill":
		runBill(log, cfg)
	case "balance":
		runBalance(log, cfg)
	case "report":
		runReport(log, cfg)
	case "upload":
		runUpload(log, cfg)
	case "subscriptions":
		runSubscriptions(log, cfg)
	case "runs":
		runRuns(log, cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Expense Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import         Stage a bank statement and optionally commit it")
	fmt.Println("  bill           Bill subscriptions that are due today")
	fmt.Println("  balance        Show or override the current balance")
	fmt.Println("  report         Print a report or export it to Excel")
	fmt.Println("  upload         Upload a statement file to GCS")
	fmt.Println("  subscriptions  List subscriptions with their next bill date")
	fmt.Println("  runs           List recent import runs")
	fmt.Println("  help           Show this help message")
	fmt.Println("\nThe ledger backend comes from LEDGER_BACKEND; every command accepts -backend.")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

// session holds the services a command runs against.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	backend *app.Backend
	collab  *app.Collaborators
	ledger  *ledger.Ledger
}

func (s *session) Close() {
	s.collab.Close()
	s.backend.Close()
	s.cancel()
}

func open(log zerolog.Logger, cfg *config.Config, timeout time.Duration) *session {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = logger.WithContext(ctx, log)

	be, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to open ledger backend")
	}
	if be.Name == config.BackendMemory {
		log.Warn().Msg("Using the memory backend - changes are discarded when the command exits")
	}
	collab := app.OpenCollaborators(ctx, cfg)

	return &session{
		ctx:     ctx,
		cancel:  cancel,
		backend: be,
		collab:  collab,
		ledger:  ledger.New(be.Store, ledger.WithCommitHook(collab.Cache.Invalidate)),
	}
}

func newFlagSet(name string, cfg *config.Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Ledger backend: memory, postgres or bigquery")
	return fs
}

func runImport(log zerolog.Logger, cfg *config.Config) {
	fs := newFlagSet("import", cfg)
	filePath := fs.String("file", "", "Path to a CSV or XLSX statement")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of a stored statement")
	name := fs.String("name", "", "Label for the import (defaults to the file name)")
	finalBalance := fs.String("final-balance", "", "Balance shown on the statement; replaces the ledger balance on commit")
	extract := fs.Bool("extract", false, "Skip rigid parsing and use the language model")
	commit := fs.Bool("commit", false, "Commit the staged entries to the ledger")
	fs.Parse(os.Args[2:])

	if (*filePath == "") == (*gcsURI == "") {
		log.Fatal().Msg("Usage: cli import (-file PATH | -gcs-uri URI) [-commit]")
	}

	s := open(log, cfg, 5*time.Minute)
	defer s.Close()

	src := pipeline.Source{Name: *name, GCSURI: *gcsURI}
	if *filePath != "" {
		data, err := os.ReadFile(*filePath)
		if err != nil {
			log.Fatal().Err(err).Str("file", *filePath).Msg("Failed to read statement")
		}
		src.Data = data
		src.MimeType = mimeTypeFor(*filePath)
		if src.Name == "" {
			src.Name = filepath.Base(*filePath)
		}
	}

	reconciler := importer.New(s.ledger)
	ingestor := pipeline.NewIngestor(reconciler, app.IngestorOptions(s.backend, s.collab)...)

	ingest := ingestor.Ingest
	if *extract {
		ingest = ingestor.Extract
	}
	staged, err := ingest(s.ctx, src)
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	if *finalBalance != "" {
		fb, err := decimal.NewFromString(*finalBalance)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -final-balance")
		}
		if err := reconciler.SetFinalBalance(staged.ID, &fb); err != nil {
			log.Fatal().Err(err).Msg("Failed to set final balance")
		}
	}

	printStaged(staged)

	if !*commit {
		fmt.Println("\nDry run: pass -commit to add the included entries to the ledger.")
		return
	}

	res, err := reconciler.Confirm(s.ctx, staged.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Commit failed")
	}
	fmt.Printf("\nImported %d transaction(s). Balance: %s\n", res.Imported, res.Balance.Current.StringFixed(2))
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return statement.XLSXContentType
	case ".pdf":
		return "application/pdf"
	default:
		return "text/csv"
	}
}

func printStaged(staged *importer.Staged) {
	fmt.Printf("\n=== Import %s (%s) ===\n", staged.ID, staged.Source)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTRY\tDATE\tTYPE\tAMOUNT\tCATEGORY\tNAME\tINCLUDED")
	for _, e := range staged.Entries {
		included := "yes"
		if !e.Included {
			included = "no"
		}
		if e.Duplicate {
			included += " (duplicate)"
		}
		if e.Invalid != "" {
			included += " (" + e.Invalid + ")"
		}
		date := e.Date.String()
		if e.RawDate != "" {
			date = e.RawDate
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.TempID, date, e.Type, e.Amount.StringFixed(2), e.Category, e.Name, included)
	}
	w.Flush()
}

func runBill(log zerolog.Logger, cfg *config.Config) {
	fs := newFlagSet("bill", cfg)
	fs.Parse(os.Args[2:])

	s := open(log, cfg, 2*time.Minute)
	defer s.Close()

	res, err := billing.New(s.ledger).Run(s.ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Billing failed")
	}
	fmt.Printf("Billed %d subscription(s) for %s.\n", res.Count, res.Amount.StringFixed(2))
}

func runBalance(log zerolog.Logger, cfg *config.Config) {
	fs := newFlagSet("balance", cfg)
	set := fs.String("set", "", "Override the balance with this amount")
	fs.Parse(os.Args[2:])

	s := open(log, cfg, time.Minute)
	defer s.Close()

	if *set != "" {
		value, err := decimal.NewFromString(*set)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -set amount")
		}
		if _, err := s.ledger.SetBalance(s.ctx, value); err != nil {
			log.Fatal().Err(err).Msg("Failed to set balance")
		}
	}

	b, err := s.ledger.GetBalance(s.ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read balance")
	}
	fmt.Printf("Balance: %s", b.Current.StringFixed(2))
	if !b.LastUpdated.IsZero() {
		fmt.Printf(" (updated %s)", b.LastUpdated.Format(time.RFC3339))
	}
	fmt.Println()
}

func runReport(log zerolog.Logger, cfg *config.Config) {
	fs := newFlagSet("report", cfg)
	typ := fs.String("type", "", "income or expense")
	category := fs.String("category", "", "Category filter")
	necessity := fs.String("necessity", "", "necessary or unnecessary")
	rng := fs.String("range", "", "this_month, last_month or this_year")
	xlsxPath := fs.String("xlsx", "", "Write the report to this Excel file instead of printing it")
	fs.Parse(os.Args[2:])

	filter, err := report.ParseFilter(*typ, *category, *necessity, *rng)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filter")
	}

	s := open(log, cfg, 2*time.Minute)
	defer s.Close()

	now := time.Now()
	opts := ledger.ListOptions{Sort: ledger.Sort{Field: ledger.SortDate}}
	if !filter.IsZero() {
		opts.Match = filter.Matcher(now)
	}
	txs, err := s.ledger.ListTransactions(s.ctx, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}
	rep := report.Build(txs, now)

	if *xlsxPath != "" {
		f, err := os.Create(*xlsxPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create export file")
		}
		defer f.Close()
		if err := report.WriteXLSX(f, rep, txs); err != nil {
			log.Fatal().Err(err).Msg("Failed to export report")
		}
		fmt.Printf("Wrote %d transaction(s) to %s\n", len(txs), *xlsxPath)
		return
	}

	t := rep.Totals
	fmt.Println("\n=== Totals ===")
	fmt.Printf("Income:    %s\n", t.Income.StringFixed(2))
	fmt.Printf("Expenses:  %s (necessary %s, optional %s)\n", t.Expenses.StringFixed(2), t.Necessary.StringFixed(2), t.Optional.StringFixed(2))
	fmt.Printf("Net:       %s over %d transaction(s)\n", t.Net.StringFixed(2), t.Count)

	fmt.Println("\n=== Expenses by category ===")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range rep.Categories {
		fmt.Fprintf(w, "%s\t%s\t%s%%\t%d\n", c.Category, c.Amount.StringFixed(2), c.Percentage.StringFixed(1), c.Count)
	}
	w.Flush()

	fmt.Println("\n=== Monthly ===")
	for _, m := range rep.Monthly {
		fmt.Fprintf(w, "%s\t+%s\t-%s\t%s\n", m.Month, m.Income.StringFixed(2), m.Expenses.StringFixed(2), m.Net.StringFixed(2))
	}
	w.Flush()
}

func runUpload(log zerolog.Logger, cfg *config.Config) {
	fs := newFlagSet("upload", cfg)
	bucket := fs.String("bucket", cfg.Bucket, "GCS bucket name (or set GCS_BUCKET env)")
	filePath := fs.String("file", "", "Path to local statement file")
	fs.Parse(os.Args[2:])

	if *bucket == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}
	cfg.Bucket = *bucket

	s := open(log, cfg, 5*time.Minute)
	defer s.Close()
	if s.collab.Storage == nil {
		log.Fatal().Msg("GCS storage is unavailable")
	}

	log.Info().Str("bucket", *bucket).Str("file", *filePath).Msg("Uploading file to GCS")

	uri, err := s.collab.Storage.UploadFile(s.ctx, *filePath, mimeTypeFor(*filePath))
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	fmt.Printf("Uploaded %s to %s\n", *filePath, uri)
	fmt.Printf("Import it with: cli import -gcs-uri %s\n", uri)
}

func runSubscriptions(log zerolog.Logger, cfg *config.Config) {
	fs := newFlagSet("subscriptions", cfg)
	fs.Parse(os.Args[2:])

	s := open(log, cfg, time.Minute)
	defer s.Close()

	subs, err := s.ledger.ListSubscriptions(s.ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list subscriptions")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAMOUNT\tFREQUENCY\tCATEGORY\tNEXT BILL")
	for _, sub := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sub.Name, sub.Amount.StringFixed(2), sub.Frequency, sub.Category, billing.NextBillDate(sub))
	}
	w.Flush()
}

func runRuns(log zerolog.Logger, cfg *config.Config) {
	fs := newFlagSet("runs", cfg)
	limit := fs.Int("limit", 20, "Number of runs to show")
	fs.Parse(os.Args[2:])

	s := open(log, cfg, time.Minute)
	defer s.Close()
	if s.backend.Runs == nil {
		log.Fatal().Str("backend", s.backend.Name).Msg("This backend keeps no durable import run log")
	}

	runs, err := s.backend.Runs.ListRuns(s.ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list import runs")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSOURCE\tPARSER\tSTATUS\tRECORDS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Source, r.Parser, r.Status, r.Records, r.ErrorMessage)
	}
	w.Flush()
}
