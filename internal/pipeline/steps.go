package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/extraction"
	"github.com/dvloznov/expense-ledger/internal/importer"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/statement"
	"github.com/shopspring/decimal"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// Source is what the user handed in: pasted text, an uploaded body, or a
// reference to a stored file.
type Source struct {
	Name     string
	Text     string
	Data     []byte
	GCSURI   string
	MimeType string
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	RunID        string
	Source       Source
	Raw          string
	Records      []statement.Record
	FinalBalance *decimal.Decimal
	Parser       string
	Staged       *importer.Staged
}

// Parser names recorded on import runs.
const (
	ParserRigid = "rigid"
	ParserLLM   = "llm"
)

// Fetcher downloads stored files.
type Fetcher interface {
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}

// Stager holds parsed records for review. Implemented by *importer.Reconciler.
type Stager interface {
	Stage(ctx context.Context, source string, recs []statement.Record, finalBalance *decimal.Decimal) (*importer.Staged, error)
}

// LoadSourceStep resolves the source into text or bytes, fetching gs:// URIs.
type LoadSourceStep struct {
	Fetcher Fetcher
}

func (s *LoadSourceStep) Execute(ctx context.Context, state *PipelineState) error {
	src := state.Source
	switch {
	case src.Text != "":
		state.Raw = src.Text
	case len(src.Data) > 0:
	case src.GCSURI != "":
		if s.Fetcher == nil {
			return &domain.ValidationError{Field: "gcs_uri", Reason: "file storage is not configured"}
		}
		data, err := s.Fetcher.Fetch(ctx, src.GCSURI)
		if err != nil {
			return fmt.Errorf("LoadSourceStep: %w", err)
		}
		state.Source.Data = data
	default:
		return &domain.ValidationError{Field: "source", Reason: "is empty"}
	}
	return nil
}

// ConvertSpreadsheetStep turns workbook bytes into CSV text and any other
// bytes into text.
type ConvertSpreadsheetStep struct{}

func (s *ConvertSpreadsheetStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Raw != "" || len(state.Source.Data) == 0 {
		return nil
	}
	data := state.Source.Data
	if state.Source.MimeType == statement.XLSXContentType || statement.IsXLSX(data) {
		text, err := statement.ReadXLSX(bytes.NewReader(data))
		if err != nil {
			return err
		}
		state.Raw = text
		return nil
	}
	state.Raw = string(data)
	return nil
}

// ParseStep runs the rigid parser and falls back to the extractor when the
// statement layout is not recognized. A rigid parse takes the closing balance
// hint from the statement's balance column when it has one.
type ParseStep struct {
	Extractor extraction.Extractor
}

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	seq, err := statement.Parse(state.Raw)
	if err == nil {
		state.Records = seq.Collect()
		state.Parser = ParserRigid
		if state.FinalBalance, err = statement.ClosingBalance(state.Raw); err != nil {
			return err
		}
		return nil
	}
	if !domain.IsFormat(err) || s.Extractor == nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("run_id", state.RunID).
		Str("reason", err.Error()).
		Msg("Statement layout not recognized, falling back to extraction")

	return extract(ctx, s.Extractor, state)
}

// ExtractStep always uses the extractor, for sources the user already knows
// rigid parsing cannot read.
type ExtractStep struct {
	Extractor extraction.Extractor
}

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Extractor == nil {
		return &domain.ValidationError{Field: "extractor", Reason: "statement extraction is not configured"}
	}
	if state.Raw == "" && len(state.Source.Data) > 0 && isText(state.Source.MimeType) {
		state.Raw = string(state.Source.Data)
	}
	return extract(ctx, s.Extractor, state)
}

// extract sends stored binary files by reference and everything else as text.
func extract(ctx context.Context, ext extraction.Extractor, state *PipelineState) error {
	var (
		res *extraction.Result
		err error
	)
	if state.Source.GCSURI != "" && !isText(state.Source.MimeType) {
		res, err = ext.ExtractFile(ctx, state.Source.GCSURI, state.Source.MimeType)
	} else {
		res, err = ext.ExtractText(ctx, state.Raw)
	}
	if err != nil {
		return err
	}
	state.Records = res.Records
	state.FinalBalance = res.FinalBalance
	state.Parser = ParserLLM
	return nil
}

func isText(mimeType string) bool {
	return mimeType == "" || strings.HasPrefix(mimeType, "text/")
}

// ValidateStep applies the rigid parser's rules to extracted records; one
// invalid record rejects the extraction. Rigid records pass through and are
// flagged per entry when staged.
type ValidateStep struct{}

func (s *ValidateStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Parser != ParserLLM {
		return nil
	}
	valid, err := statement.ValidateAll(state.Records)
	if err != nil {
		return err
	}
	state.Records = valid
	return nil
}

// StageStep hands the records to the reconciler for review.
type StageStep struct {
	Stager Stager
}

func (s *StageStep) Execute(ctx context.Context, state *PipelineState) error {
	staged, err := s.Stager.Stage(ctx, state.Source.Name, state.Records, state.FinalBalance)
	if err != nil {
		return err
	}
	state.Staged = staged
	return nil
}

// RecordRunStep marks the import run as succeeded.
type RecordRunStep struct {
	Runs RunRecorder
}

func (s *RecordRunStep) Execute(ctx context.Context, state *PipelineState) error {
	importID := ""
	if state.Staged != nil {
		importID = state.Staged.ID
	}
	return s.Runs.MarkRunSucceeded(ctx, state.RunID, RunResult{
		Parser:   state.Parser,
		ImportID: importID,
		Records:  len(state.Records),
	})
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
