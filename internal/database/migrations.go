package database

import (
	"context"
	"fmt"
	"log/slog"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

const schemaVersionSQL = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	);
`

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_documents_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				body TEXT NOT NULL,
				source TEXT NOT NULL,
				published_at TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
			CREATE INDEX IF NOT EXISTS idx_documents_published_at ON documents(published_at);
		`,
	},
	{
		Version: 2,
		Name:    "create_scorings_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS scorings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				document_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				score INTEGER NOT NULL,
				category TEXT NOT NULL,
				quality_score REAL NOT NULL,
				result TEXT NOT NULL,
				summaries TEXT NOT NULL,
				metadata TEXT NOT NULL,
				total_cost REAL NOT NULL DEFAULT 0,
				scored_at TEXT NOT NULL,
				UNIQUE (document_id, version),
				FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_scorings_document_id ON scorings(document_id);
			CREATE INDEX IF NOT EXISTS idx_scorings_score ON scorings(score);
		`,
	},
	{
		Version: 3,
		Name:    "create_selection_runs_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS selection_runs (
				id TEXT PRIMARY KEY,
				selected INTEGER NOT NULL,
				diversity_achieved INTEGER NOT NULL,
				report TEXT NOT NULL,
				created_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_selection_runs_created_at ON selection_runs(created_at);
		`,
	},
}

// Migrate runs all pending migrations
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaVersionSQL); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	slog.Debug("current schema version", "version", currentVersion)

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		slog.Info("applied migration", "version", migration.Version, "name", migration.Name)
	}

	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// LatestVersion is the version Migrate brings a database to
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}
