// Package backupjson writes the human-readable pre-migration JSON snapshot
// referenced by SPEC_FULL.md §6.1: a plain export of proposals, settings,
// and job_posts taken immediately before the one-shot unencrypted-to-
// encrypted migration, so a user can recover by hand even if the migration
// itself is aborted.
package backupjson

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the full contents written to the backup file.
type Snapshot struct {
	TakenAt   string                   `json:"takenAt"`
	Proposals []map[string]interface{} `json:"proposals"`
	Settings  []map[string]interface{} `json:"settings"`
	JobPosts  []map[string]interface{} `json:"jobPosts"`
}

// Write reads proposals, settings, and job_posts from db and writes a
// timestamped JSON snapshot under <appDataDir>/backups/.
func Write(db *sql.DB, appDataDir string) (string, error) {
	backupsDir := filepath.Join(appDataDir, "backups")
	if err := os.MkdirAll(backupsDir, 0o700); err != nil {
		return "", fmt.Errorf("create backups dir: %w", err)
	}

	snap := Snapshot{TakenAt: time.Now().UTC().Format(time.RFC3339)}

	var err error
	if snap.Proposals, err = dumpTable(db, "proposals"); err != nil {
		return "", err
	}
	if snap.Settings, err = dumpTable(db, "settings"); err != nil {
		return "", err
	}
	if snap.JobPosts, err = dumpTable(db, "job_posts"); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup snapshot: %w", err)
	}

	name := fmt.Sprintf("pre-encryption-backup-%s.json", time.Now().UTC().Format("2006-01-02-15-04-05"))
	path := filepath.Join(backupsDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}
	return path, nil
}

func dumpTable(db *sql.DB, table string) ([]map[string]interface{}, error) {
	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", table, err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
