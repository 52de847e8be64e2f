package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_runs",
		SQL: `CREATE TABLE IF NOT EXISTS runs (
  archive_ref TEXT        PRIMARY KEY,
  run_id      TEXT        NOT NULL,
  tool_key    TEXT        NOT NULL,
  status      TEXT        NOT NULL,
  stored_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  payload     JSONB       NOT NULL
);`,
	},
	{
		Name: "create_index_runs_stored_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_runs_stored_at ON runs (stored_at);`,
	},
	{
		Name: "create_index_runs_tool_key",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_runs_tool_key ON runs (tool_key);`,
	},
	{
		Name: "create_index_runs_status",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status);`,
	},
}

// EnsureMigrated checks if the 'runs' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log zerolog.Logger, dbHost string) error {
	start := time.Now()
	log = log.With().Str("component", "database").Str("db_host", dbHost).Logger()

	log.Info().Str("event", "db_migration_check").Msg("checking schema")

	var exists bool
	query := "SELECT to_regclass('public.runs') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		log.Error().Err(err).
			Str("event", "db_migration_failed").
			Dur("duration", time.Since(start)).
			Msg("failed to check sentinel table")
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info().
			Str("event", "db_migration_skip").
			Dur("duration", time.Since(start)).
			Msg("schema already exists, skipping migration")
		return nil
	}

	log.Info().Str("event", "db_migration_start").Int("steps", len(steps)).Msg("migrating")

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error().Err(err).
				Str("event", "db_migration_failed").
				Str("migration_step", step.Name).
				Dur("duration", time.Since(start)).
				Dur("step_duration", time.Since(stepStart)).
				Msg("migration step failed")
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Debug().
			Str("event", "db_migration_step").
			Str("migration_step", step.Name).
			Dur("step_duration", time.Since(stepStart)).
			Msg("migration step applied")
	}

	log.Info().
		Str("event", "db_migration_success").
		Dur("duration", time.Since(start)).
		Msg("migration complete")

	return nil
}
