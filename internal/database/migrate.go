package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the newest schema this build understands. A stored
// version above it fails with ErrUnsupportedSchema before any data access.
const SchemaVersion = 3

type migration struct {
	version    int
	name       string
	statements []string
}

// Migrations are forward-only and each step is idempotent within its own
// transaction. Never edit a shipped step; append a new one.
var migrations = []migration{
	{
		version: 1,
		name:    "core schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS categories (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				expense_type INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				fitid TEXT PRIMARY KEY,
				account TEXT NOT NULL,
				type TEXT NOT NULL,
				posted TEXT NOT NULL,
				amount TEXT NOT NULL,
				name TEXT NOT NULL,
				memo TEXT NOT NULL DEFAULT '',
				checknum TEXT NOT NULL DEFAULT '',
				category_id INTEGER REFERENCES categories(id)
			)`,
			`CREATE INDEX IF NOT EXISTS txn_content_lookup
				ON transactions (account, posted, amount, name)`,
			`CREATE TABLE IF NOT EXISTS rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				pattern TEXT NOT NULL,
				target_field TEXT NOT NULL DEFAULT 'name',
				category_id INTEGER NOT NULL REFERENCES categories(id),
				priority INTEGER NOT NULL DEFAULT 100
			)`,
		},
	},
	{
		version: 2,
		name:    "pending archive queue",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS pending_archives (
				id TEXT PRIMARY KEY,
				source_path TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				queued_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 3,
		name:    "posted ordering index",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS txn_posted ON transactions (posted, fitid)`,
		},
	},
}

// Migrate brings the database to SchemaVersion, applying any pending
// steps in order, each inside its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: database at %d, code supports %d", ErrUnsupportedSchema, current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := WithTx(ctx, db, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, m.version)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
