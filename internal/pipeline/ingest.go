package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/expense-ledger/internal/extraction"
	"github.com/dvloznov/expense-ledger/internal/importer"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/google/uuid"
)

// Ingestor runs statements through the import pipeline and records every run.
type Ingestor struct {
	stager    Stager
	runs      RunRecorder
	fetcher   Fetcher
	extractor extraction.Extractor
	now       func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithFetcher enables gs:// sources.
func WithFetcher(f Fetcher) Option {
	return func(i *Ingestor) { i.fetcher = f }
}

// WithExtractor enables the extraction fallback for unrecognized layouts.
func WithExtractor(e extraction.Extractor) Option {
	return func(i *Ingestor) { i.extractor = e }
}

// WithRunRecorder replaces the in-memory run log.
func WithRunRecorder(r RunRecorder) Option {
	return func(i *Ingestor) { i.runs = r }
}

// NewIngestor creates an Ingestor that stages into stager.
func NewIngestor(stager Stager, opts ...Option) *Ingestor {
	i := &Ingestor{
		stager: stager,
		runs:   NewMemoryRunLog(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Runs returns the run log.
func (i *Ingestor) Runs() RunRecorder {
	return i.runs
}

// NewStatementImportPipeline creates the standard import pipeline.
func (i *Ingestor) NewStatementImportPipeline() *Pipeline {
	return NewPipeline(
		&LoadSourceStep{Fetcher: i.fetcher},
		&ConvertSpreadsheetStep{},
		&ParseStep{Extractor: i.extractor},
		&ValidateStep{},
		&StageStep{Stager: i.stager},
		&RecordRunStep{Runs: i.runs},
	)
}

// NewStatementExtractionPipeline creates the pipeline that skips rigid parsing
// and goes straight to the extractor.
func (i *Ingestor) NewStatementExtractionPipeline() *Pipeline {
	return NewPipeline(
		&LoadSourceStep{Fetcher: i.fetcher},
		&ExtractStep{Extractor: i.extractor},
		&ValidateStep{},
		&StageStep{Stager: i.stager},
		&RecordRunStep{Runs: i.runs},
	)
}

// Ingest stages src for review. A failed run is marked FAILED in the run log
// and its error returned.
func (i *Ingestor) Ingest(ctx context.Context, src Source) (*importer.Staged, error) {
	return i.run(ctx, src, i.NewStatementImportPipeline())
}

// Extract stages src using the extractor only.
func (i *Ingestor) Extract(ctx context.Context, src Source) (*importer.Staged, error) {
	return i.run(ctx, src, i.NewStatementExtractionPipeline())
}

// HandleExtractJob is the jobs.JobHandler for asynchronous extraction.
func (i *Ingestor) HandleExtractJob(ctx context.Context, job *jobs.ExtractStatementJob) error {
	staged, err := i.Extract(ctx, Source{
		Name:     job.Source,
		Text:     job.Text,
		GCSURI:   job.GCSURI,
		MimeType: job.MimeType,
	})
	if err != nil {
		return err
	}
	job.ImportID = staged.ID
	return nil
}

func (i *Ingestor) run(ctx context.Context, src Source, p *Pipeline) (*importer.Staged, error) {
	if src.Name == "" {
		src.Name = sourceName(src)
	}
	state := &PipelineState{RunID: uuid.NewString(), Source: src}
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{"run_id": state.RunID})
	ctx = logger.WithContext(ctx, log)

	if err := i.runs.StartRun(ctx, ImportRun{
		RunID:     state.RunID,
		Source:    src.Name,
		GCSURI:    src.GCSURI,
		StartedAt: i.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("Ingest: starting run: %w", err)
	}

	if err := p.Execute(ctx, state); err != nil {
		i.runs.MarkRunFailed(ctx, state.RunID, err)
		log.Error().Err(err).Str("source", src.Name).Msg("Import run failed")
		return nil, err
	}

	log.Info().
		Str("source", src.Name).
		Str("parser", state.Parser).
		Int("records", len(state.Records)).
		Msg("Import run succeeded")
	return state.Staged, nil
}

// sourceName derives a label for the run log.
func sourceName(src Source) string {
	if src.GCSURI != "" {
		return extractFilenameFromGCSURI(src.GCSURI)
	}
	if src.Text != "" {
		return "pasted text"
	}
	return "upload"
}

// extractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func extractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
