// Package api assembles the HTTP surface of the ledger.
package api

import (
	"net/http"

	"github.com/dvloznov/expense-ledger/internal/api/handlers"
	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/billing"
	"github.com/dvloznov/expense-ledger/internal/gcsuploader"
	"github.com/dvloznov/expense-ledger/internal/importer"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/reportcache"
	"github.com/rs/zerolog"
)

// Services are the collaborators the HTTP handlers depend on. Storage,
// Publisher, Jobs and Cache are optional.
type Services struct {
	Ledger     *ledger.Ledger
	Biller     *billing.Biller
	Reconciler *importer.Reconciler
	Ingestor   *pipeline.Ingestor
	Storage    gcsuploader.StorageService
	Publisher  jobs.Publisher
	Jobs       jobs.JobStore
	Cache      reportcache.Cache
}

// NewHandler registers every endpoint and wraps the mux in the middleware
// chain. An empty authSecret disables authentication.
func NewHandler(s Services, log zerolog.Logger, authSecret string) http.Handler {
	transactionsHandler := handlers.NewTransactionsHandler(s.Ledger, log)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(s.Ledger, s.Biller, log)
	importsHandler := handlers.NewImportsHandler(s.Ingestor, s.Reconciler, s.Publisher, log)
	uploadsHandler := handlers.NewUploadsHandler(s.Storage, log)
	reportsHandler := handlers.NewReportsHandler(s.Ledger, s.Cache, log)

	mux := http.NewServeMux()

	// Transactions and balance
	mux.HandleFunc("GET /api/transactions", transactionsHandler.ListTransactions)
	mux.HandleFunc("POST /api/transactions", transactionsHandler.CreateTransaction)
	mux.HandleFunc("POST /api/transactions/bulk", transactionsHandler.BulkCreateTransactions)
	mux.HandleFunc("PUT /api/transactions/{id}", transactionsHandler.UpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", transactionsHandler.DeleteTransaction)
	mux.HandleFunc("GET /api/balance", transactionsHandler.GetBalance)
	mux.HandleFunc("PUT /api/balance", transactionsHandler.SetBalance)

	// Subscriptions
	mux.HandleFunc("GET /api/subscriptions", subscriptionsHandler.ListSubscriptions)
	mux.HandleFunc("POST /api/subscriptions", subscriptionsHandler.CreateSubscription)
	mux.HandleFunc("POST /api/subscriptions/bill", subscriptionsHandler.Bill)
	mux.HandleFunc("PUT /api/subscriptions/{id}", subscriptionsHandler.UpdateSubscription)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", subscriptionsHandler.DeleteSubscription)

	// Imports
	mux.HandleFunc("GET /api/imports", importsHandler.ListImports)
	mux.HandleFunc("POST /api/imports", importsHandler.CreateImport)
	mux.HandleFunc("POST /api/imports/extract", importsHandler.EnqueueExtraction)
	mux.HandleFunc("GET /api/imports/runs", importsHandler.ListRuns)
	mux.HandleFunc("GET /api/imports/{id}", importsHandler.GetImport)
	mux.HandleFunc("PATCH /api/imports/{id}", importsHandler.UpdateImport)
	mux.HandleFunc("DELETE /api/imports/{id}", importsHandler.DiscardImport)
	mux.HandleFunc("POST /api/imports/{id}/confirm", importsHandler.ConfirmImport)
	mux.HandleFunc("PATCH /api/imports/{id}/entries/{tempID}", importsHandler.UpdateEntry)

	// Uploads and reports
	mux.HandleFunc("POST /api/uploads", uploadsHandler.Upload)
	mux.HandleFunc("GET /api/reports", reportsHandler.GetReport)
	mux.HandleFunc("GET /api/reports/export.xlsx", reportsHandler.ExportXLSX)

	// Jobs
	if s.Jobs != nil {
		jobsHandler := handlers.NewJobsHandler(s.Jobs, log)
		mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)
	}

	mux.HandleFunc("GET /health", handlers.Health)

	return middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(authSecret, "/health")(mux),
				),
			),
		),
	)
}
