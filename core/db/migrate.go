package db

import (
	"context"
	_ "embed"
	"fmt"
)

// SchemaVersion is the latest version applied by Migrate.
const SchemaVersion = 1

//go:embed schema.sql
var schemaSQL string

// Migrate applies schema.sql once, recording the version in schema_migrations.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := db.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	return db.WithTx(ctx, func(tx DBTX) error {
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("migrate: apply schema v%d: %w", SchemaVersion, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, SchemaVersion); err != nil {
			return fmt.Errorf("migrate: record version: %w", err)
		}
		return nil
	})
}
