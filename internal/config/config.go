// Package config loads runtime settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Backend names accepted by LEDGER_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBigQuery = "bigquery"
)

// Config holds settings shared by every binary.
type Config struct {
	Port          string
	Backend       string
	DatabaseURL   string
	GCPProject    string
	BQDataset     string
	Bucket        string
	GeminiModel   string
	RedisAddr     string
	RedisPassword string
	AuthSecret    string
	LogLevel      string
	NotionToken   string
	NotionDBID    string
}

// Load reads .env (if present) and then the process environment.
// Variables already set in the environment win over .env values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: reading .env: %w", err)
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) *Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	return &Config{
		Port:          get("PORT", "8080"),
		Backend:       strings.ToLower(get("LEDGER_BACKEND", BackendMemory)),
		DatabaseURL:   get("DATABASE_URL", ""),
		GCPProject:    get("GCP_PROJECT", ""),
		BQDataset:     get("BQ_DATASET", "ledger"),
		Bucket:        get("GCS_BUCKET", ""),
		GeminiModel:   get("GEMINI_MODEL", "gemini-2.5-flash"),
		RedisAddr:     get("REDIS_ADDR", ""),
		RedisPassword: get("REDIS_PASSWORD", ""),
		AuthSecret:    get("AUTH_SECRET", ""),
		LogLevel:      get("LOG_LEVEL", "info"),
		NotionToken:   get("NOTION_TOKEN", ""),
		NotionDBID:    get("NOTION_DATABASE_ID", ""),
	}
}

// Validate checks that the settings required by the selected backend are present.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres backend")
		}
	case BackendBigQuery:
		if c.GCPProject == "" {
			return fmt.Errorf("config: GCP_PROJECT is required for the bigquery backend")
		}
		if c.BQDataset == "" {
			return fmt.Errorf("config: BQ_DATASET is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.Backend)
	}
	return nil
}
