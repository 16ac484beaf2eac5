package notionsync

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/google/go-cmp/cmp"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

type mockNotion struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	DeletePageFunc    func(ctx context.Context, pageID string) error
	QueryDatabaseFunc func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return m.CreatePageFunc(ctx, databaseID, properties)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return m.UpdatePageFunc(ctx, pageID, properties)
}

func (m *mockNotion) DeletePage(ctx context.Context, pageID string) error {
	return m.DeletePageFunc(ctx, pageID)
}

func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return m.QueryDatabaseFunc(ctx, databaseID, filter)
}

type sourceFunc func(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error)

func (f sourceFunc) ListTransactions(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error) {
	return f(ctx, opts)
}

func txn(id string, d civil.Date) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		Type:      domain.TypeExpense,
		Amount:    decimal.RequireFromString("12.5"),
		Name:      "Lunch " + id,
		Category:  domain.CategoryFood,
		Date:      d,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func page(id, txID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			PropTransactionID: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: txID}},
			},
		},
	}
}

type calls struct {
	created []string
	updated []string
	deleted []string
}

func newMock(pages [][]notionapi.Page, c *calls) *mockNotion {
	return &mockNotion{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			i := 0
			if req.StartCursor != "" {
				i = 1
			}
			resp := &notionapi.DatabaseQueryResponse{Results: pages[i]}
			if i+1 < len(pages) {
				resp.HasMore = true
				resp.NextCursor = "next"
			}
			return resp, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
			title := props[PropTransactionID].(notionapi.RichTextProperty)
			c.created = append(c.created, title.RichText[0].Text.Content)
			return &notionapi.Page{ID: "new"}, nil
		},
		UpdatePageFunc: func(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
			c.updated = append(c.updated, pageID)
			return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
		},
		DeletePageFunc: func(ctx context.Context, pageID string) error {
			c.deleted = append(c.deleted, pageID)
			return nil
		},
	}
}

func TestSyncTransactions(t *testing.T) {
	march := civil.Date{Year: 2024, Month: time.March, Day: 10}
	april := civil.Date{Year: 2024, Month: time.April, Day: 2}
	source := sourceFunc(func(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error) {
		return []domain.Transaction{txn("t1", march), txn("t2", march), txn("t3", april)}, nil
	})
	pages := [][]notionapi.Page{
		{page("p1", "t1"), page("p-gone", "t-deleted")},
		{page("p-blank", ""), page("p1-dup", "t1"), page("p3", "t3")},
	}

	var c calls
	res, err := SyncTransactions(context.Background(), source, newMock(pages, &c), "db", Options{
		From: civil.Date{Year: 2024, Month: time.March, Day: 1},
		To:   civil.Date{Year: 2024, Month: time.March, Day: 31},
	})
	if err != nil {
		t.Fatalf("SyncTransactions: %v", err)
	}

	if diff := cmp.Diff(Result{Created: 1, Updated: 1, Deleted: 3}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	sort.Strings(c.deleted)
	if diff := cmp.Diff([]string{"p-blank", "p-gone", "p1-dup"}, c.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"p1"}, c.updated); diff != "" {
		t.Errorf("updated mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"t2"}, c.created); diff != "" {
		t.Errorf("created mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncTransactions_DryRunWritesNothing(t *testing.T) {
	source := sourceFunc(func(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error) {
		return []domain.Transaction{txn("t1", civil.Date{Year: 2024, Month: 3, Day: 1})}, nil
	})
	var c calls
	mock := newMock([][]notionapi.Page{{page("p-gone", "x")}}, &c)

	res, err := SyncTransactions(context.Background(), source, mock, "db", Options{DryRun: true})
	if err != nil {
		t.Fatalf("SyncTransactions: %v", err)
	}
	if diff := cmp.Diff(Result{Created: 1, Deleted: 1}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if len(c.created)+len(c.updated)+len(c.deleted) != 0 {
		t.Errorf("dry run wrote to Notion: %+v", c)
	}
}

func TestSyncTransactions_PageFailuresAreCounted(t *testing.T) {
	source := sourceFunc(func(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error) {
		return []domain.Transaction{txn("t1", civil.Date{Year: 2024, Month: 3, Day: 1})}, nil
	})
	var c calls
	mock := newMock([][]notionapi.Page{{}}, &c)
	mock.CreatePageFunc = func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
		return nil, errors.New("rate limited")
	}

	res, err := SyncTransactions(context.Background(), source, mock, "db", Options{})
	if err != nil {
		t.Fatalf("SyncTransactions: %v", err)
	}
	if res.Failed != 1 || res.Created != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestSyncTransactions_ListingFailures(t *testing.T) {
	tests := []struct {
		name   string
		source sourceFunc
		query  error
	}{
		{
			name: "ledger",
			source: func(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error) {
				return nil, errors.New("store down")
			},
		},
		{
			name: "notion",
			source: func(ctx context.Context, opts ledger.ListOptions) ([]domain.Transaction, error) {
				return nil, nil
			},
			query: errors.New("unauthorized"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c calls
			mock := newMock([][]notionapi.Page{{}}, &c)
			if tt.query != nil {
				mock.QueryDatabaseFunc = func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
					return nil, tt.query
				}
			}
			if _, err := SyncTransactions(context.Background(), tt.source, mock, "db", Options{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTransactionToNotionProperties(t *testing.T) {
	tx := txn("t1", civil.Date{Year: 2024, Month: 3, Day: 10})
	tx.Notes = "with client"
	props := TransactionToNotionProperties(tx)

	amount := props[PropAmount].(notionapi.NumberProperty).Number
	if amount != -12.5 {
		t.Errorf("amount = %v, want -12.5", amount)
	}
	if got := props[PropCategory].(notionapi.SelectProperty).Select.Name; got != "food" {
		t.Errorf("category = %q", got)
	}
	date := props[PropDate].(notionapi.DateProperty).Date.Start
	if got := time.Time(*date); !got.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", got)
	}
	if _, ok := props[PropNotes]; !ok {
		t.Error("notes missing")
	}

	tx.Notes = ""
	if _, ok := TransactionToNotionProperties(tx)[PropNotes]; ok {
		t.Error("empty notes should be omitted")
	}
}
