package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// mockGenerator is a mock implementation of contentGenerator for testing.
type mockGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, model, contents, config)
}

func replyWith(text string) *mockGenerator {
	return &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(text), nil
		},
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func TestExtractText_Success(t *testing.T) {
	reply := "```json\n" + `{
  "transactions": [
    {"date": "01/02/2024", "name": "Coffee", "type": "Expense", "amount": 3.5},
    {"date": "2024-02-02", "name": "Salary", "type": "income", "amount": "1,200.00"}
  ],
  "final_balance": 1196.5
}` + "\n```"

	var gotModel string
	var gotConfig *genai.GenerateContentConfig
	gen := &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotModel = model
			gotConfig = config
			return textResponse(reply), nil
		},
	}

	res, err := newGeminiExtractor(gen, "").ExtractText(context.Background(), "some statement")
	if err != nil {
		t.Fatalf("ExtractText() error: %v", err)
	}

	if gotModel != DefaultModelName {
		t.Errorf("model = %q, want %q", gotModel, DefaultModelName)
	}
	if gotConfig == nil || gotConfig.ResponseMIMEType != "application/json" || gotConfig.ResponseSchema == nil {
		t.Errorf("config = %+v, want JSON response with schema", gotConfig)
	}

	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	if res.Records[0].Date != "2024-02-01" || res.Records[0].Type != domain.TypeExpense {
		t.Errorf("record 0 = %+v", res.Records[0])
	}
	if !res.Records[1].Amount.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("record 1 amount = %s, want 1200", res.Records[1].Amount)
	}
	if res.FinalBalance == nil || !res.FinalBalance.Equal(decimal.RequireFromString("1196.5")) {
		t.Errorf("FinalBalance = %v, want 1196.5", res.FinalBalance)
	}
}

func TestExtractText_NullFinalBalance(t *testing.T) {
	gen := replyWith(`{"transactions": [{"date": "2024-02-01", "name": "Rent", "type": "expense", "amount": 900}], "final_balance": null}`)

	res, err := newGeminiExtractor(gen, "m").ExtractText(context.Background(), "x")
	if err != nil {
		t.Fatalf("ExtractText() error: %v", err)
	}
	if res.FinalBalance != nil {
		t.Errorf("FinalBalance = %v, want nil", res.FinalBalance)
	}
}

func TestExtract_ExternalFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  *mockGenerator
	}{
		{
			name: "transport error",
			gen: &mockGenerator{
				GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return nil, errors.New("unauthenticated")
				},
			},
		},
		{name: "empty reply", gen: replyWith("")},
		{name: "malformed json", gen: replyWith("I could not read this statement.")},
		{name: "missing transactions", gen: replyWith(`{"final_balance": 10}`)},
		{name: "amount not a number", gen: replyWith(`{"transactions": [{"date": "2024-02-01", "name": "x", "type": "expense", "amount": true}]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGeminiExtractor(tt.gen, "m").ExtractFile(context.Background(), "gs://bucket/file.csv", "text/csv")
			if !domain.IsExternal(err) {
				t.Fatalf("ExtractFile() error = %v, want ExternalServiceError", err)
			}
		})
	}
}

func TestExtract_InvalidRecordNamesIndex(t *testing.T) {
	gen := replyWith(`{"transactions": [
		{"date": "2024-02-01", "name": "ok", "type": "expense", "amount": 1},
		{"date": "2024-02-01", "name": "bad", "type": "transfer", "amount": 1}
	]}`)

	_, err := newGeminiExtractor(gen, "m").ExtractText(context.Background(), "x")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ExtractText() error = %v, want ValidationError", err)
	}
	if ve.Field != "records[1].type" {
		t.Errorf("Field = %q, want records[1].type", ve.Field)
	}
}

func TestExtractText_EmptyInput(t *testing.T) {
	gen := &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			t.Fatal("model must not be called for empty input")
			return nil, nil
		},
	}
	if _, err := newGeminiExtractor(gen, "m").ExtractText(context.Background(), "  \n"); !domain.IsFormat(err) {
		t.Errorf("ExtractText() error = %v, want FormatError", err)
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                      `{"a":1}`,
		"```json\n{\"a\":1}\n```":      `{"a":1}`,
		"```\n{\"a\":1}\n```":          `{"a":1}`,
		"Here you go: {\"a\":1} done.": `{"a":1}`,
	}
	for input, want := range tests {
		if got := cleanModelJSON(input); got != want {
			t.Errorf("cleanModelJSON(%q) = %q, want %q", input, got, want)
		}
	}
}
