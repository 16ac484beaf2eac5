// Package app wires the ledger and its collaborators from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-ledger/internal/config"
	"github.com/dvloznov/expense-ledger/internal/extraction"
	"github.com/dvloznov/expense-ledger/internal/gcsuploader"
	infraBQ "github.com/dvloznov/expense-ledger/internal/infra/bigquery"
	"github.com/dvloznov/expense-ledger/internal/infra/postgres"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	ledgermem "github.com/dvloznov/expense-ledger/internal/ledger/inmemory"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/reportcache"
)

// Backend is an opened ledger store with the run log that belongs to it.
type Backend struct {
	Name  string
	Store ledger.Store
	// Runs is nil when the backend has no durable run log.
	Runs  pipeline.RunRecorder
	close func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend opens the store selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("OpenBackend: %w", err)
		}
		return &Backend{Name: cfg.Backend, Store: store, close: store.Close}, nil

	case config.BackendBigQuery:
		store, err := infraBQ.NewStore(ctx, cfg.GCPProject, cfg.BQDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenBackend: %w", err)
		}
		return &Backend{Name: cfg.Backend, Store: store, Runs: infraBQ.NewRunLog(store), close: store.Close}, nil

	default:
		return &Backend{Name: config.BackendMemory, Store: ledgermem.NewStore()}, nil
	}
}

// Collaborators are the optional external services. Nil fields are disabled.
type Collaborators struct {
	Storage   *gcsuploader.GCSStorageService
	Extractor extraction.Extractor
	Cache     reportcache.Cache
	closers   []func() error
}

// Close releases every opened collaborator.
func (c *Collaborators) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

// OpenCollaborators connects to the services cfg names. A service that cannot
// be reached is logged and left disabled.
func OpenCollaborators(ctx context.Context, cfg *config.Config) *Collaborators {
	log := logger.FromContext(ctx)
	c := &Collaborators{Cache: reportcache.NopCache{}}

	if cfg.Bucket == "" {
		log.Warn().Msg("No GCS bucket configured - uploads and gs:// imports will be disabled")
	} else if storage, err := gcsuploader.NewGCSStorageService(ctx, cfg.Bucket); err != nil {
		log.Warn().Err(err).Msg("GCS unavailable - uploads will be disabled")
	} else {
		c.Storage = storage
		c.closers = append(c.closers, storage.Close)
	}

	if cfg.GeminiModel != "" {
		if ext, err := extraction.NewGeminiExtractor(ctx, cfg.GeminiModel); err != nil {
			log.Warn().Err(err).Msg("Gemini unavailable - statement extraction will be disabled")
		} else {
			c.Extractor = ext
		}
	}

	if cfg.RedisAddr != "" {
		if cache, err := reportcache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable - report caching disabled")
		} else {
			c.Cache = cache
			c.closers = append(c.closers, cache.Close)
		}
	}

	return c
}

// IngestorOptions configures an ingestor with the backend's run log and the
// available collaborators.
func IngestorOptions(b *Backend, c *Collaborators) []pipeline.Option {
	var opts []pipeline.Option
	if b.Runs != nil {
		opts = append(opts, pipeline.WithRunRecorder(b.Runs))
	}
	if c.Storage != nil {
		opts = append(opts, pipeline.WithFetcher(c.Storage))
	}
	if c.Extractor != nil {
		opts = append(opts, pipeline.WithExtractor(c.Extractor))
	}
	return opts
}
