// Package notionsync mirrors ledger transactions into a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/jomei/notionapi"
)

const (
	// BatchSize defines the number of transactions to process in a single batch
	BatchSize = 100
)

// TransactionSource lists ledger transactions. Implemented by *ledger.Ledger.
type TransactionSource interface {
	ListTransactions(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error)
}

// Options narrow a sync run. Zero dates leave that side of the range open.
type Options struct {
	From   civil.Date
	To     civil.Date
	DryRun bool
}

func (o Options) contains(d civil.Date) bool {
	if o.From.IsValid() && d.Before(o.From) {
		return false
	}
	if o.To.IsValid() && d.After(o.To) {
		return false
	}
	return true
}

// Result counts what a sync run did. In a dry run the counts are what would
// have been done.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// SyncTransactions pushes the ledger transactions dated within the range to
// the Notion database. Pages are matched by their Transaction ID property:
// matching pages are updated, missing ones created, and pages whose
// transaction no longer exists in the ledger are archived. Failures on single
// pages are logged and counted; only listing failures abort the run.
func SyncTransactions(ctx context.Context, source TransactionSource, notionClient NotionService, notionDBID string, opts Options) (Result, error) {
	log := logger.FromContext(ctx)
	var res Result

	log.Info().
		Str("from", opts.From.String()).
		Str("to", opts.To.String()).
		Bool("dry_run", opts.DryRun).
		Msg("Starting transaction sync to Notion")

	all, err := source.ListTransactions(ctx, ledger.ListOptions{Sort: ledger.Sort{Field: ledger.SortDate}})
	if err != nil {
		return res, fmt.Errorf("SyncTransactions: listing transactions: %w", err)
	}

	known := make(map[string]bool, len(all))
	var transactions []domain.Transaction
	for _, t := range all {
		known[t.ID] = true
		if opts.contains(t.Date) {
			transactions = append(transactions, t)
		}
	}
	log.Info().Int("transaction_count", len(transactions)).Msg("Retrieved transactions from ledger")

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return res, fmt.Errorf("SyncTransactions: %w", err)
	}
	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	pageByTxID := make(map[string]string, len(notionPages))
	for _, page := range notionPages {
		txID := extractTransactionID(page)
		pageID := string(page.ID)

		// Pages without an id, duplicates and deleted transactions are stale.
		_, duplicate := pageByTxID[txID]
		if txID != "" && known[txID] && !duplicate {
			pageByTxID[txID] = pageID
			continue
		}

		pageLog := log.With().Str("transaction_id", txID).Str("page_id", pageID).Logger()
		if opts.DryRun {
			pageLog.Info().Msg("[DRY RUN] Would archive stale Notion page")
			res.Deleted++
			continue
		}
		if err := notionClient.DeletePage(ctx, pageID); err != nil {
			pageLog.Warn().Err(err).Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		pageLog.Debug().Msg("Archived stale Notion page")
		res.Deleted++
	}

	for i := 0; i < len(transactions); i += BatchSize {
		end := i + BatchSize
		if end > len(transactions) {
			end = len(transactions)
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("SyncTransactions: %w", err)
		}

		log.Debug().
			Int("batch_start", i).
			Int("batch_end", end).
			Msg("Processing batch")

		for _, t := range transactions[i:end] {
			syncOne(ctx, notionClient, notionDBID, t, pageByTxID[t.ID], opts.DryRun, &res)
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Int("total", len(transactions)).
		Msg("Transaction sync completed")

	return res, nil
}

func syncOne(ctx context.Context, notionClient NotionService, notionDBID string, t domain.Transaction, pageID string, dryRun bool, res *Result) {
	log := logger.FromContext(ctx).With().Str("transaction_id", t.ID).Logger()

	if dryRun {
		if pageID != "" {
			log.Info().Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
			res.Updated++
		} else {
			log.Info().Msg("[DRY RUN] Would create Notion page")
			res.Created++
		}
		return
	}

	props := TransactionToNotionProperties(t)
	if pageID != "" {
		if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
			log.Warn().Err(err).Str("page_id", pageID).Msg("Failed to update Notion page")
			res.Failed++
			return
		}
		res.Updated++
		return
	}

	page, err := notionClient.CreatePage(ctx, notionDBID, props)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create Notion page")
		res.Failed++
		return
	}
	log.Debug().Str("page_id", string(page.ID)).Msg("Created Notion page")
	res.Created++
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
