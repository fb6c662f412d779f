// Package importer reconstructs store contents from a URB1 archive: stage
// the encrypted payload to a temp file, attach it alongside the live store
// under SQLCipher, and copy tables across in a fixed, FK-safe order inside
// one transaction. The transaction is opened with database/sql's Begin
// (SQLite's default deferred mode), not BEGIN EXCLUSIVE.
package importer

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/vaultcore/vaultcore/internal/archive"
	"github.com/vaultcore/vaultcore/internal/keyderiver"
	"github.com/vaultcore/vaultcore/internal/store"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

// Mode selects how archive rows are reconciled against existing data.
type Mode int

const (
	// ReplaceAll deletes existing user data (preserving reserved settings
	// keys) before inserting from the archive.
	ReplaceAll Mode = iota
	// MergeSkipDuplicates inserts with ignore-on-conflict semantics and
	// performs no deletes.
	MergeSkipDuplicates
)

const (
	batchSize          = 100
	attachSchemaName   = "archive_db"
	tempFileTTL        = time.Hour
	diskHeadroomFactor = 2
)

// ProgressEvent is emitted between table copies and between batches of a
// large table.
type ProgressEvent struct {
	Table      string
	BatchIndex int
	Message    string
}

// Summary is the host-facing result of a completed import.
type Summary struct {
	ProposalsImported    int
	ProposalsSkipped     int
	JobsImported         int
	RevisionsImported    int
	SettingsImported     int
	SettingsSkipped      int
	VoiceProfileImported bool
	TotalRecords         int
}

// copyStep describes one table in the fixed copy order (SPEC_FULL.md
// §4.6.2). Batched tables are copied LIMIT/OFFSET in chunks of batchSize;
// others in a single statement.
type copyStep struct {
	table   string
	batched bool
}

var copyOrder = []copyStep{
	{"user_skills", false},
	{"rss_imports", false},
	{"job_posts", false},
	{"voice_profiles", false},
	{"golden_set_proposals", false},
	{"proposals", true},
	{"proposal_revisions", true},
	{"safety_overrides", false},
	{"job_skills", false},
	{"job_scores", false},
	{"scoring_feedback", false},
}

// deleteOrder is the reverse-FK order used by ReplaceAll's step 0, exactly
// the mirror image of copyOrder (children before parents).
var deleteOrder = func() []string {
	out := make([]string, 0, len(copyOrder))
	for i := len(copyOrder) - 1; i >= 0; i-- {
		out = append(out, copyOrder[i].table)
	}
	return out
}()

// Preview checks the archive's size and returns its plaintext metadata
// without touching the encrypted payload.
func Preview(archivePath string) (archive.Metadata, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return archive.Metadata{}, fmt.Errorf("stat archive: %w", err)
	}
	if info.Size() > archive.MaxArchiveSize {
		return archive.Metadata{}, fmt.Errorf("%w: %d bytes exceeds %d byte limit", vaulterrors.ErrArchiveTooLarge, info.Size(), int64(archive.MaxArchiveSize))
	}
	return archive.ReadMetadataOnly(archivePath)
}

// Import reconstructs live from the archive at archivePath, unlocked with
// archivePassphrase, under mode. onProgress may be nil.
func Import(live *store.Store, archivePath string, archivePassphrase string, mode Mode, tempDir string, onProgress func(ProgressEvent)) (Summary, error) {
	emit := func(table string, batch int, msg string) {
		if onProgress != nil {
			onProgress(ProgressEvent{Table: table, BatchIndex: batch, Message: msg})
		}
	}

	if _, err := Preview(archivePath); err != nil {
		return Summary{}, err
	}

	_, salt, dbBytes, err := archive.ReadArchive(archivePath)
	if err != nil {
		return Summary{}, err
	}

	tempPath := filepath.Join(tempDir, uuid.NewString()+".urb.tmp")
	if err := stageTempFile(tempPath, dbBytes); err != nil {
		return Summary{}, err
	}
	defer os.Remove(tempPath)

	key, err := keyderiver.DeriveKeySlice(archivePassphrase, salt)
	if err != nil {
		return Summary{}, err
	}
	defer key.Destroy()

	archiveDB, err := store.OpenForKey(tempPath, key)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", vaulterrors.ErrDecryption, err)
	}
	defer archiveDB.Close()

	if err := store.QuickCheck(archiveDB); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", vaulterrors.ErrDecryption, err)
	}

	archiveVersion, err := store.SchemaVersionOfSchema(archiveDB, "")
	if err != nil {
		return Summary{}, err
	}
	liveVersion, err := store.SchemaVersionOfSchema(live.DB(), "")
	if err != nil {
		return Summary{}, err
	}
	if archiveVersion != liveVersion {
		return Summary{}, &vaulterrors.SchemaMismatchError{ArchiveVersion: archiveVersion, LiveVersion: liveVersion}
	}

	if err := checkDiskHeadroom(tempPath); err != nil {
		return Summary{}, err
	}

	live.Lock()
	defer live.Unlock()

	hexKey := key.Hex()
	attachSQL := fmt.Sprintf(`ATTACH DATABASE '%s' AS %s KEY "x'%s'"`, escapeSQLiteLiteral(tempPath), attachSchemaName, hexKey.Bytes())
	if _, err := live.DB().Exec(attachSQL); err != nil {
		hexKey.Destroy()
		return Summary{}, fmt.Errorf("%w: attach archive: %v", vaulterrors.ErrDatabase, err)
	}
	hexKey.Destroy()
	defer live.DB().Exec(fmt.Sprintf(`DETACH DATABASE %s`, attachSchemaName))

	summary, copyErr := copyTables(live.DB(), mode, emit)
	if copyErr != nil {
		return Summary{}, copyErr
	}

	return summary, nil
}

func stageTempFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp staging file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write temp staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("fsync temp staging file: %w", err)
	}
	return f.Close()
}

func checkDiskHeadroom(tempPath string) error {
	info, err := os.Stat(tempPath)
	if err != nil {
		return fmt.Errorf("stat staged archive: %w", err)
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(tempPath), &stat); err != nil {
		return fmt.Errorf("statfs temp dir: %w", err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	required := uint64(info.Size()) * diskHeadroomFactor
	if free < required {
		return fmt.Errorf("%w: need %d bytes free, have %d", vaulterrors.ErrDiskSpaceInsufficient, required, free)
	}
	return nil
}

// SweepStaleTempFiles removes any <uuid>.urb.tmp files in tempDir older
// than tempFileTTL, run once at host startup.
func SweepStaleTempFiles(tempDir string) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read temp dir: %w", err)
	}
	cutoff := time.Now().Add(-tempFileTTL)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".urb.tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(tempDir, e.Name()))
		}
	}
	return nil
}

func escapeSQLiteLiteral(s string) string {
	out := ""
	for _, r := range s {
		if r == '\'' {
			out += "''"
		} else {
			out += string(r)
		}
	}
	return out
}

func copyTables(db *sql.DB, mode Mode, emit func(table string, batch int, msg string)) (summary Summary, err error) {
	tx, err := db.Begin()
	if err != nil {
		return Summary{}, fmt.Errorf("begin import transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = fmt.Errorf("%w: %v (original error: %v)", vaulterrors.ErrRollbackFailed, rbErr, err)
			}
		}
	}()

	if mode == ReplaceAll {
		emit("(delete)", 0, "Removing existing data…")
		for _, table := range deleteOrder {
			stmt := fmt.Sprintf(`DELETE FROM %s`, table)
			if table == "settings" {
				stmt = reservedExclusionDelete()
			}
			if _, err := tx.Exec(stmt); err != nil {
				return Summary{}, fmt.Errorf("%w: delete %s: %v", vaulterrors.ErrImportFailed, table, err)
			}
		}
		if _, err := tx.Exec(reservedExclusionDelete()); err != nil {
			return Summary{}, fmt.Errorf("%w: delete settings: %v", vaulterrors.ErrImportFailed, err)
		}
	}

	insertVerb := "INSERT INTO"
	if mode == MergeSkipDuplicates {
		insertVerb = "INSERT OR IGNORE INTO"
	}

	settingsImported, settingsSkipped, err := copySettings(tx, insertVerb)
	if err != nil {
		return Summary{}, err
	}
	summary.SettingsImported = settingsImported
	summary.SettingsSkipped = settingsSkipped
	emit("settings", 0, "Copied settings")

	var voiceProfileImported bool
	for _, step := range copyOrder {
		imported, err := copyTable(tx, step, insertVerb, emit)
		if err != nil {
			return Summary{}, err
		}
		switch step.table {
		case "proposals":
			summary.ProposalsImported = imported
		case "proposal_revisions":
			summary.RevisionsImported = imported
		case "job_posts":
			summary.JobsImported = imported
		case "voice_profiles":
			voiceProfileImported = imported > 0
		}
	}
	summary.VoiceProfileImported = voiceProfileImported

	if mode == MergeSkipDuplicates {
		archiveProposalCount, err := countArchiveRows(tx, "proposals")
		if err != nil {
			return Summary{}, err
		}
		summary.ProposalsSkipped = archiveProposalCount - summary.ProposalsImported
		if summary.ProposalsSkipped < 0 {
			summary.ProposalsSkipped = 0
		}
	}

	summary.TotalRecords = summary.ProposalsImported + summary.RevisionsImported + summary.JobsImported + summary.SettingsImported

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("%w: commit: %v", vaulterrors.ErrImportFailed, err)
	}
	committed = true
	emit("(commit)", 0, "Complete")
	return summary, nil
}

func reservedExclusionDelete() string {
	placeholders := ""
	for i, k := range store.ReservedSettingsKeys {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "'" + k + "'"
	}
	return fmt.Sprintf(`DELETE FROM settings WHERE key NOT IN (%s)`, placeholders)
}

func copySettings(tx *sql.Tx, insertVerb string) (imported int, skipped int, err error) {
	reservedList := ""
	for i, k := range store.ReservedSettingsKeys {
		if i > 0 {
			reservedList += ","
		}
		reservedList += "'" + k + "'"
	}

	var archiveCount int
	if err := tx.QueryRow(fmt.Sprintf(`SELECT count(*) FROM %s.settings WHERE key NOT IN (%s)`, attachSchemaName, reservedList)).Scan(&archiveCount); err != nil {
		return 0, 0, fmt.Errorf("%w: count archive settings: %v", vaulterrors.ErrImportFailed, err)
	}

	stmt := fmt.Sprintf(`%s settings SELECT * FROM %s.settings WHERE key NOT IN (%s)`, insertVerb, attachSchemaName, reservedList)
	res, err := tx.Exec(stmt)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: copy settings: %v", vaulterrors.ErrImportFailed, err)
	}
	n, _ := res.RowsAffected()
	return int(n), archiveCount - int(n), nil
}

func countArchiveRows(tx *sql.Tx, table string) (int, error) {
	var count int
	if err := tx.QueryRow(fmt.Sprintf(`SELECT count(*) FROM %s.%s`, attachSchemaName, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count archive rows in %s: %v", vaulterrors.ErrImportFailed, table, err)
	}
	return count, nil
}

func copyTable(tx *sql.Tx, step copyStep, insertVerb string, emit func(table string, batch int, msg string)) (int, error) {
	total, err := countArchiveRows(tx, step.table)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	if !step.batched || total <= batchSize {
		stmt := fmt.Sprintf(`%s %s SELECT * FROM %s.%s`, insertVerb, step.table, attachSchemaName, step.table)
		res, err := tx.Exec(stmt)
		if err != nil {
			return 0, fmt.Errorf("%w: copy %s: %v", vaulterrors.ErrImportFailed, step.table, err)
		}
		n, _ := res.RowsAffected()
		emit(step.table, 0, fmt.Sprintf("Copied %s", step.table))
		return int(n), nil
	}

	imported := 0
	for offset, batchIdx := 0, 0; offset < total; offset, batchIdx = offset+batchSize, batchIdx+1 {
		stmt := fmt.Sprintf(`%s %s SELECT * FROM %s.%s ORDER BY rowid LIMIT %d OFFSET %d`, insertVerb, step.table, attachSchemaName, step.table, batchSize, offset)
		res, err := tx.Exec(stmt)
		if err != nil {
			return 0, fmt.Errorf("%w: copy %s batch %d: %v", vaulterrors.ErrImportFailed, step.table, batchIdx, err)
		}
		n, _ := res.RowsAffected()
		imported += int(n)
		emit(step.table, batchIdx, fmt.Sprintf("Copied %s batch %d", step.table, batchIdx+1))
	}
	return imported, nil
}
