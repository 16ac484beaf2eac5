package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

const serviceName = "gemini"

// contentGenerator is the subset of *genai.Models the extractor needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor extracts statement records with a Gemini model constrained
// to a JSON response schema.
type GeminiExtractor struct {
	models contentGenerator
	model  string
}

// NewGeminiExtractor creates an extractor backed by the Gemini API. Credentials
// come from the environment (GOOGLE_API_KEY, or Vertex AI settings).
func NewGeminiExtractor(ctx context.Context, model string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "create client", Err: err}
	}
	return newGeminiExtractor(client.Models, model), nil
}

func newGeminiExtractor(models contentGenerator, model string) *GeminiExtractor {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{models: models, model: model}
}

// ExtractText implements Extractor for pasted statement text.
func (g *GeminiExtractor) ExtractText(ctx context.Context, raw string) (*Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &domain.FormatError{Reason: "nothing to extract: input is empty"}
	}
	parts := []*genai.Part{
		{Text: buildPrompt()},
		{Text: "Statement text:\n" + raw},
	}
	return g.extract(ctx, parts)
}

// ExtractFile implements Extractor for a stored file referenced by URI.
func (g *GeminiExtractor) ExtractFile(ctx context.Context, fileURI, mimeType string) (*Result, error) {
	if fileURI == "" {
		return nil, &domain.ValidationError{Field: "file_url", Reason: "is required"}
	}
	if mimeType == "" {
		mimeType = "text/csv"
	}
	parts := []*genai.Part{
		{Text: buildPrompt()},
		{FileData: &genai.FileData{FileURI: fileURI, MIMEType: mimeType}},
	}
	return g.extract(ctx, parts)
}

func (g *GeminiExtractor) extract(ctx context.Context, parts []*genai.Part) (*Result, error) {
	log := logger.FromContext(ctx)

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "generate content", Err: err}
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "generate content", Err: fmt.Errorf("empty response from model")}
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &parsed); err != nil {
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "decode response", Err: err}
	}

	result, err := transformModelOutput(parsed)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "decode response", Err: err}
	}

	valid, err := Validate(result.Records)
	if err != nil {
		log.Warn().Err(err).Str("model", g.model).Msg("Model returned invalid records")
		return nil, err
	}
	result.Records = valid

	log.Info().
		Str("model", g.model).
		Int("records", len(result.Records)).
		Bool("final_balance", result.FinalBalance != nil).
		Msg("Statement extracted")

	return result, nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON object in case the model ignored the response format.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

var _ Extractor = (*GeminiExtractor)(nil)
