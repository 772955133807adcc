package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func newMigrator(db *sql.DB) (*goose.Provider, error) {
	schema, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("ledger: opening embedded schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, schema)
	if err != nil {
		return nil, fmt.Errorf("ledger: preparing schema migrator: %w", err)
	}

	return provider, nil
}

// migrate brings the task_runs and uploads tables up to the newest schema
// and returns the resulting version.
func migrate(ctx context.Context, db *sql.DB, path string, logger *slog.Logger) (int64, error) {
	provider, err := newMigrator(db)
	if err != nil {
		return 0, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: migrating %s: %w", path, err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: reading schema version of %s: %w", path, err)
	}

	if len(results) == 0 {
		logger.Debug("ledger schema current", slog.Int64("schema_version", version))
		return version, nil
	}

	for _, r := range results {
		logger.Debug("ledger schema step applied",
			slog.Int64("version", r.Source.Version),
			slog.String("source", r.Source.Path),
			slog.Duration("took", r.Duration),
		)
	}

	logger.Info("ledger schema upgraded",
		slog.String("db_path", path),
		slog.Int("steps", len(results)),
		slog.Int64("schema_version", version),
	)

	return version, nil
}

// SchemaVersion reports the applied schema version of the journal.
func (l *Ledger) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := newMigrator(l.db)
	if err != nil {
		return 0, err
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: reading schema version: %w", err)
	}

	return version, nil
}
