package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS items (
					id TEXT PRIMARY KEY,
					org_id TEXT NOT NULL,
					name TEXT NOT NULL,
					sku TEXT,
					description TEXT,
					supplier_id TEXT,
					supplier_name TEXT,
					attributes TEXT,
					category_id TEXT,
					category_name TEXT,
					ai_confidence REAL,
					previous_confidence REAL,
					ai_provider TEXT,
					ai_reasoning TEXT,
					ai_status TEXT NOT NULL DEFAULT 'pending',
					ai_status_reason TEXT,
					ai_error TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_items_org ON items(org_id)`,
				`CREATE INDEX idx_items_org_category ON items(org_id, category_id)`,
				`CREATE INDEX idx_items_created ON items(created_at, id)`,

				`CREATE TABLE IF NOT EXISTS item_tags (
					item_id TEXT NOT NULL,
					tag_id TEXT NOT NULL,
					confidence REAL,
					provider TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (item_id, tag_id),
					FOREIGN KEY (item_id) REFERENCES items(id)
				)`,

				`CREATE TABLE IF NOT EXISTS targets (
					id TEXT PRIMARY KEY,
					org_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					name TEXT NOT NULL,
					parent_id TEXT,
					path TEXT NOT NULL DEFAULT '',
					level INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_targets_org_kind ON targets(org_id, kind)`,

				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					org_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'queued',
					filters TEXT NOT NULL DEFAULT '{}',
					config TEXT NOT NULL DEFAULT '{}',
					total_items INTEGER NOT NULL DEFAULT 0,
					processed_items INTEGER NOT NULL DEFAULT 0,
					successful INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0,
					current_offset INTEGER NOT NULL DEFAULT 0,
					batch_size INTEGER NOT NULL DEFAULT 50,
					error_count INTEGER NOT NULL DEFAULT 0,
					error_message TEXT,
					created_by TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					started_at DATETIME,
					paused_at DATETIME,
					cancelled_at DATETIME,
					completed_at DATETIME
				)`,
				`CREATE INDEX idx_jobs_org_created ON jobs(org_id, created_at)`,

				`CREATE TABLE IF NOT EXISTS batch_progress (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					job_id TEXT NOT NULL,
					batch_number INTEGER NOT NULL,
					batch_offset INTEGER NOT NULL,
					batch_size INTEGER NOT NULL,
					items_in_batch INTEGER NOT NULL DEFAULT 0,
					successful_count INTEGER NOT NULL DEFAULT 0,
					failed_count INTEGER NOT NULL DEFAULT 0,
					skipped_count INTEGER NOT NULL DEFAULT 0,
					duration_ms INTEGER NOT NULL DEFAULT 0,
					estimated_tokens INTEGER NOT NULL DEFAULT 0,
					provider_used TEXT,
					started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					completed_at DATETIME,
					error_message TEXT,
					FOREIGN KEY (job_id) REFERENCES jobs(id)
				)`,
				`CREATE INDEX idx_batch_progress_job ON batch_progress(job_id, batch_number)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add proposed taxonomy values for human review",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS proposed_values (
					id TEXT PRIMARY KEY,
					org_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					name TEXT NOT NULL,
					name_key TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					reasoning TEXT,
					provider TEXT,
					job_id TEXT,
					status TEXT NOT NULL DEFAULT 'pending',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (org_id, kind, name_key)
				)`,
				`CREATE TABLE IF NOT EXISTS proposed_value_items (
					proposed_id TEXT NOT NULL,
					item_id TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (proposed_id, item_id),
					FOREIGN KEY (proposed_id) REFERENCES proposed_values(id),
					FOREIGN KEY (item_id) REFERENCES items(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add per-organization AI service configuration",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS service_configs (
					org_id TEXT NOT NULL,
					service TEXT NOT NULL,
					settings TEXT NOT NULL DEFAULT '{}',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (org_id, service)
				)
			`)
			return err
		},
	},
	{
		Version:     4,
		Description: "Optimize job lookup indexes",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
				`CREATE INDEX IF NOT EXISTS idx_items_ai_status ON items(org_id, ai_status)`,
				`CREATE INDEX IF NOT EXISTS idx_proposed_values_org ON proposed_values(org_id, kind, status)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
