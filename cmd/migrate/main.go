package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-ledger/internal/config"
	"github.com/dvloznov/expense-ledger/internal/infra/postgres"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		backend       = flag.String("backend", cfg.Backend, "Ledger backend to migrate: bigquery or postgres")
		projectID     = flag.String("project", cfg.GCPProject, "GCP project ID (or set GCP_PROJECT env)")
		datasetID     = flag.String("dataset", cfg.BQDataset, "BigQuery dataset ID (or set BQ_DATASET env)")
		databaseURL   = flag.String("database-url", cfg.DatabaseURL, "Postgres DSN (or set DATABASE_URL env)")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
	)
	flag.Parse()

	ctx := logger.WithContext(context.Background(), log)

	switch *backend {
	case config.BackendPostgres:
		if *databaseURL == "" {
			log.Fatal().Msg("-database-url is required for the postgres backend")
		}
		store, err := postgres.Open(ctx, *databaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate postgres schema")
		}
		defer store.Close()
		log.Info().Msg("Postgres schema is up to date")

	case config.BackendBigQuery:
		if *projectID == "" {
			log.Fatal().Msg("-project is required for the bigquery backend")
		}
		m := &migrator{projectID: *projectID, datasetID: *datasetID, appliedBy: *appliedBy, log: log}
		if err := m.run(ctx, *migrationsDir); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}

	default:
		log.Fatal().Str("backend", *backend).Msg("Nothing to migrate: choose -backend bigquery or postgres")
	}
}

// migrator applies BigQuery SQL migrations and records them in schema_migrations.
type migrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
	log       zerolog.Logger
}

func (m *migrator) run(ctx context.Context, migrationsDir string) error {
	dir, err := locateMigrations(migrationsDir)
	if err != nil {
		return err
	}
	migrations, skipped, err := readMigrations(os.DirFS(dir), m.projectID, m.datasetID)
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	for _, name := range skipped {
		m.log.Warn().Str("file", name).Msg("Skipping file with invalid format")
	}
	m.log.Info().Int("count", len(migrations)).Msg("Found migration files")

	m.client, err = bigquery.NewClient(ctx, m.projectID)
	if err != nil {
		return fmt.Errorf("creating BigQuery client: %w", err)
	}
	defer m.client.Close()

	m.log.Info().Str("project", m.projectID).Str("dataset", m.datasetID).Msg("Connected to BigQuery")

	if err := m.exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.projectID, m.datasetID)); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	m.log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending, err := pendingMigrations(migrations, applied)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		mlog := m.log.With().Str("migration", migration.Filename).Logger()
		mlog.Info().Msg("Applying migration")

		if err := m.exec(ctx, migration.SQL); err != nil {
			return fmt.Errorf("executing %s: %w", migration.Filename, err)
		}
		if err := m.record(ctx, migration); err != nil {
			return fmt.Errorf("recording %s: %w", migration.Filename, err)
		}
		mlog.Info().Msg("Migration applied")
	}

	if len(pending) == 0 {
		m.log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		m.log.Info().Int("applied", len(pending)).Msg("Migrations applied")
	}
	return nil
}

// locateMigrations finds dir relative to the working directory, falling back
// to the repository root when run from cmd/migrate.
func locateMigrations(dir string) (string, error) {
	for _, candidate := range []string{dir, "../../" + dir} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

// appliedMigrations retrieves the list of already applied migrations
func (m *migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	q := m.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC
	`, m.projectID, m.datasetID))

	it, err := q.Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// record inserts a successfully applied migration into schema_migrations.
func (m *migrator) record(ctx context.Context, migration Migration) error {
	q := m.client.Query(fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.projectID, m.datasetID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: migration.Version},
		{Name: "name", Value: migration.Name},
		{Name: "checksum", Value: migration.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	}
	return m.wait(ctx, q)
}

func (m *migrator) exec(ctx context.Context, sql string) error {
	return m.wait(ctx, m.client.Query(sql))
}

func (m *migrator) wait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
