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

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS source_notes (
					id TEXT PRIMARY KEY,
					patient_name TEXT NOT NULL,
					visit_date DATETIME NOT NULL,
					raw_text TEXT NOT NULL,
					length INTEGER NOT NULL DEFAULT 0,
					ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_source_notes_visit_date ON source_notes(visit_date)`,

				`CREATE TABLE IF NOT EXISTS destination_records (
					id TEXT PRIMARY KEY,
					patient_name TEXT NOT NULL,
					visit_date DATETIME NOT NULL,
					is_signed INTEGER NOT NULL DEFAULT 0,
					provider TEXT,
					location TEXT,
					text TEXT,
					fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_destination_records_visit_date ON destination_records(visit_date)`,

				`CREATE TABLE IF NOT EXISTS match_results (
					source_id TEXT PRIMARY KEY,
					destination_id TEXT,
					tier TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					name_score REAL NOT NULL DEFAULT 0,
					date_score REAL NOT NULL DEFAULT 0,
					content_score REAL NOT NULL DEFAULT 0,
					candidates INTEGER NOT NULL DEFAULT 0,
					ambiguous INTEGER NOT NULL DEFAULT 0,
					matched_at DATETIME NOT NULL,
					FOREIGN KEY (source_id) REFERENCES source_notes(id)
				)`,

				`CREATE TABLE IF NOT EXISTS processing_results (
					id TEXT PRIMARY KEY,
					source_id TEXT UNIQUE NOT NULL,
					batch_id TEXT,
					patient_name TEXT NOT NULL,
					visit_date DATETIME NOT NULL,
					raw_note TEXT NOT NULL,
					step1_note TEXT NOT NULL DEFAULT '',
					step2_note TEXT NOT NULL DEFAULT '',
					final_cleaned_note TEXT NOT NULL DEFAULT '',
					processing_status TEXT NOT NULL,
					review_status TEXT NOT NULL,
					upload_status TEXT NOT NULL,
					match_tier TEXT NOT NULL,
					last_error TEXT NOT NULL DEFAULT '',
					total_checks INTEGER NOT NULL DEFAULT 0,
					passed_checks INTEGER NOT NULL DEFAULT 0,
					failed_checks INTEGER NOT NULL DEFAULT 0,
					critical_failures INTEGER NOT NULL DEFAULT 0,
					requires_human_intervention INTEGER NOT NULL DEFAULT 0,
					intervention_reasons TEXT NOT NULL DEFAULT '[]',
					processing_attempts INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					CHECK (passed_checks + failed_checks = total_checks),
					CHECK (critical_failures <= failed_checks),
					FOREIGN KEY (source_id) REFERENCES source_notes(id)
				)`,
				`CREATE INDEX idx_processing_results_batch ON processing_results(batch_id)`,
				`CREATE INDEX idx_processing_results_status ON processing_results(processing_status)`,

				`CREATE TABLE IF NOT EXISTS validation_checks (
					result_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					check_id TEXT NOT NULL,
					name TEXT NOT NULL,
					priority TEXT NOT NULL,
					passed INTEGER NOT NULL,
					message TEXT NOT NULL DEFAULT '',
					details TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (result_id, check_id),
					FOREIGN KEY (result_id) REFERENCES processing_results(id)
				)`,

				`CREATE TABLE IF NOT EXISTS batch_runs (
					id TEXT PRIMARY KEY,
					batch_id TEXT UNIQUE NOT NULL,
					start_date DATETIME NOT NULL,
					end_date DATETIME NOT NULL,
					total_notes INTEGER NOT NULL,
					processed_notes INTEGER NOT NULL DEFAULT 0,
					success_count INTEGER NOT NULL DEFAULT 0,
					needs_review_count INTEGER NOT NULL DEFAULT 0,
					failed_count INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					completed_at DATETIME,
					CHECK (processed_notes <= total_notes),
					CHECK (success_count + needs_review_count + failed_count = processed_notes)
				)`,

				`CREATE TABLE IF NOT EXISTS batch_members (
					batch_id TEXT NOT NULL,
					result_id TEXT NOT NULL,
					outcome TEXT,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (batch_id, result_id),
					FOREIGN KEY (batch_id) REFERENCES batch_runs(batch_id)
				)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add review and upload workflow",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE processing_results ADD COLUMN review_notes TEXT NOT NULL DEFAULT ''`,
				`ALTER TABLE processing_results ADD COLUMN reviewer TEXT NOT NULL DEFAULT ''`,
				`ALTER TABLE processing_results ADD COLUMN reviewed_at DATETIME`,
				`ALTER TABLE processing_results ADD COLUMN uploaded_at DATETIME`,

				`ALTER TABLE batch_runs ADD COLUMN uploaded_count INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE batch_runs ADD COLUMN upload_failed_count INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE batch_runs ADD COLUMN upload_flagged_count INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE batch_runs ADD COLUMN cancelled INTEGER NOT NULL DEFAULT 0`,

				`CREATE TABLE IF NOT EXISTS review_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					result_id TEXT NOT NULL,
					decision TEXT NOT NULL,
					reviewer TEXT NOT NULL DEFAULT '',
					notes TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (result_id) REFERENCES processing_results(id)
				)`,
				`CREATE INDEX idx_review_events_result ON review_events(result_id)`,

				`CREATE TABLE IF NOT EXISTS upload_attempts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					result_id TEXT NOT NULL,
					status TEXT NOT NULL,
					detail TEXT NOT NULL DEFAULT '',
					tries INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (result_id) REFERENCES processing_results(id)
				)`,
				`CREATE INDEX idx_upload_attempts_result ON upload_attempts(result_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add patient tags and rule catalog versions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS tags (
					name TEXT PRIMARY KEY,
					color TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE IF NOT EXISTS patient_tags (
					patient_key TEXT NOT NULL,
					tag_name TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (patient_key, tag_name),
					FOREIGN KEY (tag_name) REFERENCES tags(name)
				)`,
				`CREATE TABLE IF NOT EXISTS catalog_versions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					version TEXT NOT NULL,
					format TEXT NOT NULL,
					document BLOB NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add checkpoint metadata and review queue index",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS checkpoint_metadata (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					description TEXT,
					file_size INTEGER,
					row_counts TEXT,
					schema_version INTEGER,
					is_auto INTEGER DEFAULT 0
				)`,
				`CREATE INDEX IF NOT EXISTS idx_processing_results_review
					ON processing_results(requires_human_intervention, review_status)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

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

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
