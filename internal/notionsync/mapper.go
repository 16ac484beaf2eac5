package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the Notion transactions database.
const (
	PropName          = "Name"
	PropTransactionID = "Transaction ID"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropType          = "Type"
	PropCategory      = "Category"
	PropNecessary     = "Necessary"
	PropNotes         = "Notes"
	PropCreatedAt     = "Created At"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &d},
	}
}

func civilToTime(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// TransactionToNotionProperties converts a ledger transaction to Notion properties.
// Amount is signed: expenses are negative so Notion sums give the net flow.
func TransactionToNotionProperties(t domain.Transaction) notionapi.Properties {
	amount, _ := t.SignedAmount().Float64()

	props := notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Title: richText(t.Name),
		},
		PropTransactionID: notionapi.RichTextProperty{
			RichText: richText(t.ID),
		},
		PropDate: dateProperty(civilToTime(t.Date)),
		PropAmount: notionapi.NumberProperty{
			Number: amount,
		},
		PropType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(t.Type)},
		},
		PropCategory: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(t.Category)},
		},
		PropNecessary: notionapi.CheckboxProperty{
			Checkbox: t.IsNecessary,
		},
	}

	if t.Notes != "" {
		props[PropNotes] = notionapi.RichTextProperty{
			RichText: richText(t.Notes),
		}
	}
	if !t.CreatedAt.IsZero() {
		props[PropCreatedAt] = dateProperty(t.CreatedAt.UTC())
	}

	return props
}

// extractTransactionID reads the ledger id stored on a Notion page.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	switch prop := page.Properties[PropTransactionID].(type) {
	case *notionapi.RichTextProperty:
		return plainText(prop.RichText)
	case notionapi.RichTextProperty:
		return plainText(prop.RichText)
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	if len(rt) == 0 {
		return ""
	}
	if rt[0].PlainText != "" {
		return rt[0].PlainText
	}
	if rt[0].Text != nil {
		return rt[0].Text.Content
	}
	return ""
}
