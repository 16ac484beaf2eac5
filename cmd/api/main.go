package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/expense-ledger/internal/api"
	"github.com/dvloznov/expense-ledger/internal/app"
	"github.com/dvloznov/expense-ledger/internal/billing"
	"github.com/dvloznov/expense-ledger/internal/config"
	"github.com/dvloznov/expense-ledger/internal/importer"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
)

func main() {
	boot := logger.New()
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command-line flags
	var (
		port            = flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
		backend         = flag.String("backend", cfg.Backend, "Ledger backend: memory, postgres or bigquery (or set LEDGER_BACKEND env)")
		bucket          = flag.String("bucket", cfg.Bucket, "GCS bucket name for statement uploads (or set GCS_BUCKET env)")
		billingInterval = flag.Duration("billing-interval", 0, "Bill due subscriptions on this interval (default 0: only via POST /api/subscriptions/bill)")
		workers         = flag.Int("workers", 2, "Extraction job workers")
	)
	flag.Parse()
	cfg.Backend, cfg.Bucket = *backend, *bucket

	log := logger.NewWithLevel(cfg.LogLevel)
	ctx := logger.WithContext(context.Background(), log)

	// Initialize storage and collaborators
	be, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger backend")
	}
	defer be.Close()
	log.Info().Str("backend", be.Name).Msg("Ledger backend ready")

	collab := app.OpenCollaborators(ctx, cfg)
	defer collab.Close()

	l := ledger.New(be.Store, ledger.WithCommitHook(collab.Cache.Invalidate))
	reconciler := importer.New(l)
	ingestor := pipeline.NewIngestor(reconciler, app.IngestorOptions(be, collab)...)
	biller := billing.New(l)

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, inmemory.WithWorkers(*workers))

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	var publisher jobs.Publisher
	if collab.Extractor != nil {
		publisher = jobQueue
		log.Info().Int("workers", *workers).Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, ingestor.HandleExtractJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job workers")
		}
	}

	if *billingInterval > 0 {
		log.Info().Dur("interval", *billingInterval).Msg("Scheduled billing enabled")
		go biller.Schedule(workerCtx, *billingInterval)
	}

	services := api.Services{
		Ledger:     l,
		Biller:     biller,
		Reconciler: reconciler,
		Ingestor:   ingestor,
		Publisher:  publisher,
		Jobs:       jobStore,
		Cache:      collab.Cache,
	}
	if collab.Storage != nil {
		services.Storage = collab.Storage
	}
	if cfg.AuthSecret == "" {
		log.Warn().Msg("AUTH_SECRET not set - API is unauthenticated")
	}

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      api.NewHandler(services, log, cfg.AuthSecret),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop billing and the job queue, waiting for in-flight jobs
	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
