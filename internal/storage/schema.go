package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		creators := []func(*sql.Tx) error{
			createSchemaVersionTable,
			createRepositoriesTable,
			createAnalysisCacheTables,
			createCheckpointsTable,
			createScanRunsTable,
			createFileResultsTable,
			createCostLogTable,
		}
		for _, create := range creators {
			if err := create(tx); err != nil {
				return err
			}
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == 0 {
		// file existed but was never initialized (e.g. created by a crashed first run)
		return db.initializeSchema()
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)
	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createRepositoriesTable creates the tracked repository table.
// last_committed_reference is NULL until the first complete cycle and after a force-rescan.
func createRepositoriesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			root_path TEXT NOT NULL,
			last_committed_reference TEXT,
			scan_enabled INTEGER NOT NULL DEFAULT 1,
			scan_interval TEXT NOT NULL,
			scan_interval_seconds INTEGER NOT NULL,
			last_scan_attempt_at TEXT,
			last_completed_at TEXT,
			last_outcome TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create repositories table: %w", err)
	}
	return nil
}

// createAnalysisCacheTables creates the content-addressed analysis cache.
// The five key factors are stored alongside the digest for inspection and
// per-factor invalidation.
func createAnalysisCacheTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_cache (
			cache_key TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			model_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			config_hash TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			codec TEXT NOT NULL,
			payload BLOB NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			size_bytes INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			last_accessed_at TEXT NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 1
		)
	`); err != nil {
		return fmt.Errorf("failed to create analysis_cache table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS cache_counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("failed to create cache_counters table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_analysis_cache_repo ON analysis_cache(repo_id)",
		"CREATE INDEX IF NOT EXISTS idx_analysis_cache_model ON analysis_cache(model_id)",
		"CREATE INDEX IF NOT EXISTS idx_analysis_cache_accessed ON analysis_cache(last_accessed_at)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create cache index: %w", err)
		}
	}
	return nil
}

func createCheckpointsTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS scan_checkpoints (
			repo_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			list_fingerprint TEXT NOT NULL,
			total_files INTEGER NOT NULL,
			next_index INTEGER NOT NULL DEFAULT 0,
			last_file TEXT NOT NULL DEFAULT '',
			analyzed INTEGER NOT NULL DEFAULT 0,
			cached INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			accumulated_cost REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create scan_checkpoints table: %w", err)
	}
	return nil
}

func createScanRunsTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS scan_runs (
			run_id TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			outcome TEXT NOT NULL DEFAULT '',
			ceiling REAL NOT NULL DEFAULT 0,
			spent REAL NOT NULL DEFAULT 0,
			halted_on_budget INTEGER NOT NULL DEFAULT 0,
			files_total INTEGER NOT NULL DEFAULT 0,
			files_analyzed INTEGER NOT NULL DEFAULT 0,
			files_cached INTEGER NOT NULL DEFAULT 0,
			files_skipped INTEGER NOT NULL DEFAULT 0,
			files_failed INTEGER NOT NULL DEFAULT 0,
			reference_from TEXT NOT NULL DEFAULT '',
			reference_to TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("failed to create scan_runs table: %w", err)
	}
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_scan_runs_repo ON scan_runs(repo_id, started_at)"); err != nil {
		return fmt.Errorf("failed to create scan_runs index: %w", err)
	}
	return nil
}

func createFileResultsTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS file_results (
			repo_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			run_id TEXT NOT NULL,
			from_cache INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			skip_reason TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (repo_id, file_path)
		)
	`); err != nil {
		return fmt.Errorf("failed to create file_results table: %w", err)
	}
	return nil
}

func createCostLogTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS cost_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			model_id TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL,
			recorded_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create cost_log table: %w", err)
	}
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_cost_log_recorded ON cost_log(recorded_at)"); err != nil {
		return fmt.Errorf("failed to create cost_log index: %w", err)
	}
	return nil
}
