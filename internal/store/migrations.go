package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// migration is one forward-only, numbered schema step. Func runs inside the
// single transaction the runner opens for the whole batch; it must
// never commit or roll back on its own.
type migration struct {
	Version int
	Name    string
	Func    func(tx *sql.Tx) error
}

// migrations is the ordered, append-only list of schema steps. Never edit an
// already-shipped entry — add a new one instead.
var migrations = []migration{
	{1, "initial_schema", migrateInitialSchema},
	{2, "additional_indexes", migrateAdditionalIndexes},
}

func migrateInitialSchema(tx *sql.Tx) error {
	if _, err := tx.Exec(baseSchema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	for _, kv := range defaultSettings {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO settings(key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("seed setting %s: %w", kv[0], err)
		}
	}
	for _, h := range defaultHookStrategies {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO hook_strategies(name, description, best_for) VALUES (?, ?, ?)`, h[0], h[1], h[2]); err != nil {
			return fmt.Errorf("seed hook strategy %s: %w", h[0], err)
		}
	}
	return nil
}

func migrateAdditionalIndexes(tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_job_posts_created_at ON job_posts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_posts_analysis_status ON job_posts(analysis_status)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("additional indexes: %w", err)
		}
	}
	return nil
}

var defaultSettings = [][2]string{
	{"onboarding_completed", "false"},
	{"db_version", "0"},
	{"installed_version", ""},
	{"previous_version", ""},
	{"last_update_timestamp", ""},
	{"update_detected", "false"},
	{"failed_update_versions", "[]"},
	{"pre_update_backup", ""},
}

var defaultHookStrategies = [][3]string{
	{"direct_ask", "Open with a direct, specific question about the client's stated problem.", "clients who write terse, task-focused posts"},
	{"mirrored_pain", "Restate the client's pain point back to them before proposing a fix.", "clients who describe a frustration at length"},
	{"proof_first", "Lead with a one-line proof of relevant past work.", "competitive postings with many bids"},
}

// ReservedSettingsKeys are settings rows the importer must never overwrite
// (SPEC_FULL.md §3.1, §9): they describe the *local* install, not portable
// user data, and crossing them from one store into another would corrupt
// the health-check and update-rollback subsystems.
var ReservedSettingsKeys = []string{
	"onboarding_completed",
	"db_version",
	"installed_version",
	"previous_version",
	"last_update_timestamp",
	"update_detected",
	"failed_update_versions",
	"pre_update_backup",
}

// RunMigrations brings db up to the latest schema version inside one
// transaction. Any migration failure rolls back the entire batch —
// a store is never left half-migrated.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_history (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		checksum TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure schema_history: %w", err)
	}

	current, err := currentSchemaVersion(db)
	if err != nil {
		return err
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	// SQLite ignores PRAGMA foreign_keys inside a transaction, so it is
	// toggled on the connection around the transaction instead.
	if _, err := db.Exec(`PRAGMA foreign_keys = OFF`); err != nil {
		return fmt.Errorf("disable foreign_keys during migration: %w", err)
	}
	defer db.Exec(`PRAGMA foreign_keys = ON`)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}

	for _, m := range pending {
		if err := m.Func(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		checksum := sha256.Sum256([]byte(m.Name))
		if _, err := tx.Exec(`INSERT INTO schema_history(version, name, checksum) VALUES (?, ?, ?)`,
			m.Version, m.Name, hex.EncodeToString(checksum[:])); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("re-enable foreign_keys after migration: %w", err)
	}
	return nil
}

func currentSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_history`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion is the version a freshly migrated store ends up at. The
// importer and health check read the version from schema_history with
// SchemaVersionOfSchema instead of calling this.
func SchemaVersion() int {
	return migrations[len(migrations)-1].Version
}
