// Command extract-statement runs the language-model extractor over a single
// statement and prints the records it finds, without staging anything.
// Useful for checking a new bank layout before importing it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/dvloznov/expense-ledger/internal/config"
	"github.com/dvloznov/expense-ledger/internal/extraction"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/statement"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	filePath := flag.String("file", "", "Path to a local statement (text, CSV or XLSX)")
	gcsURI := flag.String("gcs-uri", "", "GCS URI of a stored statement (PDFs must be given this way)")
	mimeType := flag.String("mime-type", "application/pdf", "MIME type of the -gcs-uri object")
	model := flag.String("model", cfg.GeminiModel, "Gemini model name (or set GEMINI_MODEL env)")
	flag.Parse()

	if (*filePath == "") == (*gcsURI == "") {
		log.Fatal().Msg("Usage: extract-statement (-file PATH | -gcs-uri URI)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	ext, err := extraction.NewGeminiExtractor(ctx, *model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extractor")
	}

	var res *extraction.Result
	if *gcsURI != "" {
		res, err = ext.ExtractFile(ctx, *gcsURI, *mimeType)
	} else {
		var raw string
		raw, err = readLocal(*filePath)
		if err != nil {
			log.Fatal().Err(err).Str("file", *filePath).Msg("Failed to read statement")
		}
		res, err = ext.ExtractText(ctx, raw)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}

	if _, err := extraction.Validate(res.Records); err != nil {
		log.Warn().Err(err).Msg("Extracted records would be rejected on import")
	}
	log.Info().Int("records", len(res.Records)).Msg("Extraction completed")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal().Err(err).Msg("Failed to print result")
	}
}

func readLocal(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if statement.IsXLSX(data) {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return statement.ReadXLSX(f)
	}
	return string(data), nil
}
