package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"google.golang.org/api/iterator"
)

// RunLog records import runs in the import_runs table.
type RunLog struct {
	store *Store
	now   func() time.Time
}

// NewRunLog creates a RunLog sharing the store's client.
func NewRunLog(store *Store) *RunLog {
	return &RunLog{store: store, now: time.Now}
}

// StartRun inserts a new row with status=RUNNING.
func (r *RunLog) StartRun(ctx context.Context, run pipeline.ImportRun) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (run_id, source, gcs_uri, status, records, started_at)
		VALUES (@run_id, @source, @gcs_uri, @status, 0, @started_at)
	`, r.store.table(importRunsTable))

	params := []bigquery.QueryParameter{
		{Name: "run_id", Value: run.RunID},
		{Name: "source", Value: run.Source},
		{Name: "gcs_uri", Value: run.GCSURI},
		{Name: "status", Value: pipeline.RunStatusRunning},
		{Name: "started_at", Value: run.StartedAt.UTC()},
	}
	if err := r.store.exec(ctx, sql, params); err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}
	return nil
}

// MarkRunSucceeded sets status=SUCCESS, finished_at and the run's outcome.
func (r *RunLog) MarkRunSucceeded(ctx context.Context, runID string, res pipeline.RunResult) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    parser = @parser,
		    import_id = @import_id,
		    records = @records,
		    finished_at = @finished_at,
		    error_message = ""
		WHERE run_id = @run_id
	`, r.store.table(importRunsTable))

	params := []bigquery.QueryParameter{
		{Name: "status", Value: pipeline.RunStatusSuccess},
		{Name: "parser", Value: res.Parser},
		{Name: "import_id", Value: res.ImportID},
		{Name: "records", Value: res.Records},
		{Name: "finished_at", Value: r.now().UTC()},
		{Name: "run_id", Value: runID},
	}
	if err := r.store.exec(ctx, sql, params); err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}
	return nil
}

// MarkRunFailed sets status=FAILED, finished_at and error_message.
// Failures are logged, not returned.
func (r *RunLog) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_at = @finished_at,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, r.store.table(importRunsTable))

	params := []bigquery.QueryParameter{
		{Name: "status", Value: pipeline.RunStatusFailed},
		{Name: "finished_at", Value: r.now().UTC()},
		{Name: "error_message", Value: pipeline.TruncateError(runErr)},
		{Name: "run_id", Value: runID},
	}
	if err := r.store.exec(ctx, sql, params); err != nil {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: updating import run")
	}
}

// ListRuns returns the most recent runs first; limit <= 0 means all.
func (r *RunLog) ListRuns(ctx context.Context, limit int) ([]pipeline.ImportRun, error) {
	sql := fmt.Sprintf(`
		SELECT
			run_id,
			source,
			IFNULL(gcs_uri, '') AS gcs_uri,
			IFNULL(parser, '') AS parser,
			status,
			IFNULL(import_id, '') AS import_id,
			records,
			IFNULL(error_message, '') AS error_message,
			started_at,
			finished_at
		FROM %s
		ORDER BY started_at DESC
	`, r.store.table(importRunsTable))
	var params []bigquery.QueryParameter
	if limit > 0 {
		sql += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	it, err := r.store.read(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: %w", err)
	}

	runs := []pipeline.ImportRun{}
	for {
		var row ImportRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: iter next: %w", err)
		}
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

var _ pipeline.RunRecorder = (*RunLog)(nil)
