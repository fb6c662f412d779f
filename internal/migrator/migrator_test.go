package migrator

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/vaultcore/vaultcore/internal/store"
)

func buildLegacyDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open legacy fixture: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE proposals (id INTEGER PRIMARY KEY AUTOINCREMENT, job_content TEXT NOT NULL, generated_text TEXT NOT NULL DEFAULT '', status TEXT, created_at DATETIME DEFAULT CURRENT_TIMESTAMP, updated_at DATETIME)`,
		`CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE job_posts (id INTEGER PRIMARY KEY AUTOINCREMENT, url TEXT, raw_content TEXT NOT NULL, client_name TEXT, job_title TEXT, skills_match_percent REAL, client_quality_percent REAL, overall_score REAL, score_color TEXT, analysis_status TEXT, source TEXT, import_batch_id TEXT, created_at DATETIME DEFAULT CURRENT_TIMESTAMP)`,
		`CREATE TABLE schema_history (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP, checksum TEXT NOT NULL)`,
		`INSERT INTO proposals(job_content, generated_text, status) VALUES ('legacy job 1', 'legacy text 1', 'draft')`,
		`INSERT INTO proposals(job_content, generated_text, status) VALUES ('legacy job 2', 'legacy text 2', NULL)`,
		`INSERT INTO settings(key, value) VALUES ('onboarding_completed', 'true')`,
		`INSERT INTO job_posts(raw_content, client_name) VALUES ('legacy raw content', 'Acme Co')`,
		`INSERT INTO schema_history(version, name, checksum) VALUES (1, 'legacy_initial', 'abc123')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

func TestMigrateCopiesLegacyDataAndLeavesMarker(t *testing.T) {
	appDataDir := t.TempDir()
	legacyPath := filepath.Join(appDataDir, "legacy.db")
	buildLegacyDB(t, legacyPath)

	result, err := Migrate(appDataDir, legacyPath, "NewEncryptedPass123!")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.ProposalCount != 2 {
		t.Fatalf("ProposalCount = %d, want 2", result.ProposalCount)
	}
	if result.JobPostCount != 1 {
		t.Fatalf("JobPostCount = %d, want 1", result.JobPostCount)
	}

	if !AlreadyMigrated(appDataDir) {
		t.Fatalf("expected migration marker to be present")
	}

	if _, err := os.Stat(legacyPath + ".old"); err != nil {
		t.Fatalf("expected legacy file renamed to .old: %v", err)
	}
	if _, err := os.Stat(filepath.Join(appDataDir, store.DatabaseFileName)); err != nil {
		t.Fatalf("expected new encrypted database at production path: %v", err)
	}

	s, err := store.OpenEncrypted(appDataDir, "NewEncryptedPass123!")
	if err != nil {
		t.Fatalf("OpenEncrypted post-migration: %v", err)
	}
	defer s.Close()

	var jobContent string
	if err := s.DB().QueryRow(`SELECT job_content FROM proposals WHERE id = 1`).Scan(&jobContent); err != nil {
		t.Fatalf("query migrated proposal: %v", err)
	}
	if jobContent != "legacy job 1" {
		t.Fatalf("job_content = %q, want %q", jobContent, "legacy job 1")
	}

	var status string
	if err := s.DB().QueryRow(`SELECT status FROM proposals WHERE id = 2`).Scan(&status); err != nil {
		t.Fatalf("query coalesced status: %v", err)
	}
	if status != "completed" {
		t.Fatalf("COALESCE(status,'completed') = %q, want %q", status, "completed")
	}
}

func TestMigrateRefusesWhenAlreadyMigrated(t *testing.T) {
	appDataDir := t.TempDir()
	legacyPath := filepath.Join(appDataDir, "legacy.db")
	buildLegacyDB(t, legacyPath)

	if _, err := Migrate(appDataDir, legacyPath, "NewEncryptedPass123!"); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}

	legacyPath2 := filepath.Join(appDataDir, "legacy2.db")
	buildLegacyDB(t, legacyPath2)
	if _, err := Migrate(appDataDir, legacyPath2, "AnotherPass456!"); err == nil {
		t.Fatalf("expected second Migrate to refuse: marker already present")
	}
}

func TestMigrateRefusesWhenNoLegacyFile(t *testing.T) {
	appDataDir := t.TempDir()
	if _, err := Migrate(appDataDir, filepath.Join(appDataDir, "missing.db"), "pw"); err == nil {
		t.Fatalf("expected error when legacy file does not exist")
	}
}
