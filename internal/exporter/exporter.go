// Package exporter produces URB1 archives of the live store without
// letting a concurrent writer corrupt the snapshot: it checkpoints the
// write-ahead log, reads the encrypted file bytes while still holding the
// store's mutex, and only releases the lock once those bytes are safely in
// memory.
package exporter

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vaultcore/vaultcore/internal/archive"
	"github.com/vaultcore/vaultcore/internal/store"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

// Cooldown is the minimum interval between two successful exports.
const Cooldown = 60 * time.Second

// ProgressEvent is emitted at each phase boundary of Export.
type ProgressEvent struct {
	Phase   string
	Message string
}

const (
	PhasePreparing = "preparing"
	PhaseCopying   = "copying_database"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
)

// Exporter tracks the process-wide cooldown between successful exports.
type Exporter struct {
	mu       sync.Mutex
	lastOK   time.Time
	appVer   string
	saltPath string
}

// New builds an Exporter. appVersion is stamped into every archive's
// metadata; saltPath is the on-disk salt file belonging to the live store.
func New(appVersion, saltPath string) *Exporter {
	return &Exporter{appVer: appVersion, saltPath: saltPath}
}

// Counts holds the per-table row counts embedded in archive metadata.
type Counts struct {
	ProposalCount     int
	RevisionCount     int
	JobPostCount      int
	SettingsCount     int
	VoiceProfileCount int
}

func countRows(s *store.Store) (Counts, error) {
	var c Counts
	queries := map[string]*int{
		`SELECT count(*) FROM proposals`:          &c.ProposalCount,
		`SELECT count(*) FROM proposal_revisions`: &c.RevisionCount,
		`SELECT count(*) FROM job_posts`:          &c.JobPostCount,
		`SELECT count(*) FROM settings`:           &c.SettingsCount,
		`SELECT count(*) FROM voice_profiles`:     &c.VoiceProfileCount,
	}
	for q, dst := range queries {
		if err := s.DB().QueryRow(q).Scan(dst); err != nil {
			return Counts{}, fmt.Errorf("count rows: %w", err)
		}
	}
	return c, nil
}

// Export snapshots s and writes a URB1 archive to destPath. passphraseHint
// is stored verbatim in the archive metadata and is never validated or
// encrypted — it is advisory display text only. onProgress may be nil.
func (e *Exporter) Export(s *store.Store, destPath string, passphraseHint *string, onProgress func(ProgressEvent)) error {
	emit := func(phase, msg string) {
		if onProgress != nil {
			onProgress(ProgressEvent{Phase: phase, Message: msg})
		}
	}

	e.mu.Lock()
	if !e.lastOK.IsZero() {
		if remaining := Cooldown - time.Since(e.lastOK); remaining > 0 {
			e.mu.Unlock()
			return &vaulterrors.RateLimitedResult{SecondsRemaining: int(remaining.Seconds()) + 1}
		}
	}
	e.mu.Unlock()

	emit(PhasePreparing, "Preparing…")

	s.Lock()
	if err := checkpointLocked(s); err != nil {
		s.Unlock()
		return err
	}

	counts, err := countRows(s)
	if err != nil {
		s.Unlock()
		return err
	}

	emit(PhaseCopying, "Copying database…")
	dbBytes, err := os.ReadFile(s.Path())
	if err != nil {
		s.Unlock()
		return fmt.Errorf("read encrypted database file: %w", err)
	}
	s.Unlock()

	salt, err := os.ReadFile(e.saltPath)
	if err != nil {
		return fmt.Errorf("read salt file: %w", err)
	}

	metadata := archive.Metadata{
		FormatVersion:     1,
		ExportDate:        time.Now().UTC().Format(time.RFC3339),
		AppVersion:        e.appVer,
		PassphraseHint:    passphraseHint,
		ProposalCount:     counts.ProposalCount,
		RevisionCount:     counts.RevisionCount,
		JobPostCount:      counts.JobPostCount,
		SettingsCount:     counts.SettingsCount,
		VoiceProfileCount: counts.VoiceProfileCount,
		DbSizeBytes:       uint64(len(dbBytes)),
	}

	tmpPath := destPath + ".tmp"
	if err := archive.WriteArchive(tmpPath, metadata, salt, dbBytes); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", vaulterrors.ErrImportFailed, err)
	}

	emit(PhaseVerifying, "Verifying…")
	if err := verifyArchive(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename archive into place: %w", err)
	}

	e.mu.Lock()
	e.lastOK = time.Now()
	e.mu.Unlock()

	emit(PhaseComplete, "Complete!")
	return nil
}

func checkpointLocked(s *store.Store) error {
	_, err := s.DB().Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// verifyArchive re-parses the archive just written and checks it the way a
// foreign reader would: magic, metadata, salt length, and database size all
// have to check out before Export will rename it into place.
func verifyArchive(path string) error {
	metadata, salt, dbBytes, err := archive.ReadArchive(path)
	if err != nil {
		return fmt.Errorf("verify archive: %w", err)
	}
	if len(salt) != archive.SaltLength {
		return fmt.Errorf("%w: exported archive salt is %d bytes, expected %d", vaulterrors.ErrImportFailed, len(salt), archive.SaltLength)
	}
	if metadata.DbSizeBytes < archive.MinPlausibleDbSize {
		return fmt.Errorf("%w: exported database is suspiciously small (%d bytes)", vaulterrors.ErrImportFailed, metadata.DbSizeBytes)
	}
	if len(dbBytes) == 0 {
		return fmt.Errorf("%w: exported archive has an empty database portion", vaulterrors.ErrImportFailed)
	}
	return nil
}
