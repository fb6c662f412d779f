// Package migrator performs the one-shot, reversible conversion of a
// preexisting unencrypted store into an encrypted one. The old file is
// never modified during the copy — only renamed after every verification
// has passed — so a failure at any point before the final rename leaves
// the original data exactly as it was.
package migrator

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/vaultcore/vaultcore/internal/backupjson"
	"github.com/vaultcore/vaultcore/internal/keyderiver"
	"github.com/vaultcore/vaultcore/internal/store"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

const (
	markerFileName    = ".migration_complete"
	encryptedSideName = "vault-encrypted.db"
)

// Result is the host-facing outcome of a successful migration.
type Result struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	ProposalCount  int
	SettingsCount  int
	JobPostCount   int
	BackupJSONPath string
}

func markerPath(appDataDir string) string { return filepath.Join(appDataDir, markerFileName) }

// AlreadyMigrated reports whether the migration marker is already present.
func AlreadyMigrated(appDataDir string) bool {
	_, err := os.Stat(markerPath(appDataDir))
	return err == nil
}

// Migrate runs the full legacy-to-encrypted conversion. oldDBPath is the
// existing unencrypted database file; newPassphrase protects the new
// store. Returns a Result describing what was copied, for display.
//
// Explicit failure policy (SPEC_FULL.md §4.7): any failure before step 9
// (post-commit file swap) leaves oldDBPath completely untouched and
// readable under its original name; the returned error says so. A failure
// in the file-swap steps themselves names the files and their states
// precisely — recovery from that point on is manual.
func Migrate(appDataDir, oldDBPath string, newPassphrase string) (Result, error) {
	if _, err := os.Stat(oldDBPath); err != nil {
		return Result{}, fmt.Errorf("%w: no legacy database at %s", vaulterrors.ErrValidation, oldDBPath)
	}
	if AlreadyMigrated(appDataDir) {
		return Result{}, fmt.Errorf("%w: migration already completed for this app data directory", vaulterrors.ErrValidation)
	}

	result := Result{StartedAt: time.Now().UTC()}

	oldDB, err := sql.Open("sqlite3", oldDBPath)
	if err != nil {
		return Result{}, fmt.Errorf("open legacy database: %w (original file untouched)", err)
	}
	defer oldDB.Close()

	if backupPath, err := backupjson.Write(oldDB, appDataDir); err != nil {
		return Result{}, fmt.Errorf("write pre-migration JSON backup: %w (original file untouched)", err)
	} else {
		result.BackupJSONPath = backupPath
	}

	encPath := filepath.Join(appDataDir, encryptedSideName)
	os.Remove(encPath)

	salt, err := keyderiver.GenerateSalt()
	if err != nil {
		return Result{}, err
	}
	key, err := keyderiver.DeriveKey(newPassphrase, salt)
	if err != nil {
		return Result{}, err
	}
	defer key.Destroy()

	newDB, err := store.OpenForKey(encPath, key)
	if err != nil {
		return Result{}, fmt.Errorf("create side-path encrypted database: %w (original file untouched)", err)
	}
	cleanupNewFile := true
	defer func() {
		newDB.Close()
		if cleanupNewFile {
			os.Remove(encPath)
		}
	}()

	if err := store.RunMigrations(newDB); err != nil {
		return Result{}, fmt.Errorf("migrate new database schema: %w (original file untouched)", err)
	}

	attachSQL := fmt.Sprintf(`ATTACH DATABASE '%s' AS old_db KEY ''`, oldDBPath)
	if _, err := newDB.Exec(attachSQL); err != nil {
		return Result{}, fmt.Errorf("attach legacy database: %w (original file untouched)", err)
	}
	defer newDB.Exec(`DETACH DATABASE old_db`)

	tx, err := newDB.Begin()
	if err != nil {
		return Result{}, fmt.Errorf("begin migration transaction: %w (original file untouched)", err)
	}

	if err := copyLegacyTables(tx); err != nil {
		tx.Rollback()
		if probeErr := probeOldDBIntact(oldDB); probeErr != nil {
			return Result{}, fmt.Errorf("%w: copy failed and legacy integrity probe also failed: %v (original error: %v)", vaulterrors.ErrCorrupted, probeErr, err)
		}
		return Result{}, fmt.Errorf("copy legacy tables: %w (original file verified intact and untouched)", err)
	}

	counts, err := verifyCounts(tx)
	if err != nil {
		tx.Rollback()
		return Result{}, fmt.Errorf("verify row counts: %w (original file untouched)", err)
	}
	result.ProposalCount = counts.proposals
	result.SettingsCount = counts.settings
	result.JobPostCount = counts.jobPosts

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit migration transaction: %w (original file untouched)", err)
	}

	newDB.Exec(`DETACH DATABASE old_db`)
	if err := waitForCheckpoint(newDB); err != nil {
		return Result{}, fmt.Errorf("checkpoint new database after commit: %w — data was committed but WAL not flushed; do not delete %s", err, oldDBPath)
	}

	cleanupNewFile = false
	newDB.Close()
	oldDB.Close()

	if err := demoteOldFileJournal(oldDBPath); err != nil {
		return Result{}, fmt.Errorf("demote legacy journal mode: %w — data committed to %s; %s left in place", err, encPath, oldDBPath)
	}
	removeSidecars(oldDBPath)

	oldRenamed := oldDBPath + ".old"
	if err := os.Rename(oldDBPath, oldRenamed); err != nil {
		return Result{}, fmt.Errorf("rename legacy file to %s: %w — data committed to %s, legacy file left at original name", oldRenamed, err, encPath)
	}
	finalPath := filepath.Join(appDataDir, store.DatabaseFileName)
	if err := os.Rename(encPath, finalPath); err != nil {
		return Result{}, fmt.Errorf("rename %s to %s: %w — legacy file now at %s, new encrypted file left at side path", encPath, finalPath, err, oldRenamed)
	}
	if err := os.WriteFile(markerPath(appDataDir), []byte(time.Now().UTC().Format(time.RFC3339)), 0o600); err != nil {
		return Result{}, fmt.Errorf("write migration marker: %w — migration itself succeeded; marker will be retried", err)
	}

	result.FinishedAt = time.Now().UTC()
	return result, nil
}

func copyLegacyTables(tx *sql.Tx) error {
	stmts := []string{
		`INSERT INTO proposals(id, job_content, generated_text, status, created_at, updated_at)
		   SELECT id, job_content, generated_text, COALESCE(status,'completed'), created_at, COALESCE(updated_at, created_at)
		   FROM old_db.proposals`,
		`INSERT OR REPLACE INTO settings(key, value)
		   SELECT key, value FROM old_db.settings`,
		`INSERT INTO job_posts(id, url, raw_content, client_name, job_title, skills_match_percent, client_quality_percent, overall_score, score_color, analysis_status, source, import_batch_id, created_at)
		   SELECT id, url, raw_content, client_name, job_title, skills_match_percent, client_quality_percent, overall_score,
		          COALESCE(score_color,'gray'), COALESCE(analysis_status,'pending_analysis'), COALESCE(source,''), import_batch_id, created_at
		   FROM old_db.job_posts`,
		`INSERT OR REPLACE INTO schema_history(version, name, applied_at, checksum)
		   SELECT version, name, applied_at, checksum FROM old_db.schema_history`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("%w: %v", vaulterrors.ErrImportFailed, err)
		}
	}
	return nil
}

type tableCounts struct {
	proposals, settings, jobPosts int
}

func verifyCounts(tx *sql.Tx) (tableCounts, error) {
	var c tableCounts
	// The new store is seeded with default settings before the copy, so only
	// the settings rows whose keys came from the legacy file are counted.
	pairs := []struct {
		table    string
		newQuery string
		dst      *int
	}{
		{"proposals", `SELECT count(*) FROM proposals`, &c.proposals},
		{"settings", `SELECT count(*) FROM settings WHERE key IN (SELECT key FROM old_db.settings)`, &c.settings},
		{"job_posts", `SELECT count(*) FROM job_posts`, &c.jobPosts},
	}
	for _, p := range pairs {
		var oldCount, newCount int
		if err := tx.QueryRow(fmt.Sprintf(`SELECT count(*) FROM old_db.%s`, p.table)).Scan(&oldCount); err != nil {
			return tableCounts{}, fmt.Errorf("count old %s: %w", p.table, err)
		}
		if err := tx.QueryRow(p.newQuery).Scan(&newCount); err != nil {
			return tableCounts{}, fmt.Errorf("count new %s: %w", p.table, err)
		}
		if oldCount != newCount {
			return tableCounts{}, fmt.Errorf("%s count mismatch: old=%d new=%d", p.table, oldCount, newCount)
		}
		*p.dst = newCount
	}

	var oldHistCount, newHistCount int
	if err := tx.QueryRow(`SELECT count(*) FROM old_db.schema_history`).Scan(&oldHistCount); err != nil {
		return tableCounts{}, fmt.Errorf("count old schema_history: %w", err)
	}
	if err := tx.QueryRow(`SELECT count(*) FROM schema_history`).Scan(&newHistCount); err != nil {
		return tableCounts{}, fmt.Errorf("count new schema_history: %w", err)
	}
	if newHistCount < oldHistCount {
		return tableCounts{}, fmt.Errorf("new schema_history has fewer entries (%d) than old (%d)", newHistCount, oldHistCount)
	}
	return c, nil
}

func probeOldDBIntact(oldDB *sql.DB) error {
	for _, table := range []string{"proposals", "settings", "job_posts"} {
		var n int
		if err := oldDB.QueryRow(fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n); err != nil {
			return fmt.Errorf("legacy %s unreadable: %w", table, err)
		}
	}
	return nil
}

func waitForCheckpoint(db *sql.DB) error {
	_, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func demoteOldFileJournal(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(`PRAGMA journal_mode = DELETE`)
	return err
}

func removeSidecars(dbPath string) {
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
}
