package importer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultcore/vaultcore/internal/archive"
	"github.com/vaultcore/vaultcore/internal/exporter"
	"github.com/vaultcore/vaultcore/internal/store"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

func seedProposal(t *testing.T, s *store.Store, jobContent string) {
	t.Helper()
	if _, err := s.DB().Exec(`INSERT INTO proposals(job_content, generated_text) VALUES (?, ?)`, jobContent, "draft text"); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
}

func buildArchive(t *testing.T, passphrase string) (path string, dir string) {
	t.Helper()
	dir = t.TempDir()
	s, err := store.CreateEncrypted(dir, passphrase)
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	seedProposal(t, s, "job A")
	seedProposal(t, s, "job B")
	s.Close()

	s2, err := store.OpenEncrypted(dir, passphrase)
	if err != nil {
		t.Fatalf("OpenEncrypted: %v", err)
	}
	defer s2.Close()

	exp := exporter.New("1.0.0", filepath.Join(dir, store.SaltFileName))
	archivePath := filepath.Join(dir, "export.urb")
	if err := exp.Export(s2, archivePath, nil, nil); err != nil {
		t.Fatalf("Export: %v", err)
	}
	return archivePath, dir
}

func TestPreviewReturnsMetadataWithoutTouchingPayload(t *testing.T) {
	archivePath, _ := buildArchive(t, "CorrectTestPass123!")

	meta, err := Preview(archivePath)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if meta.ProposalCount != 2 {
		t.Fatalf("ProposalCount = %d, want 2", meta.ProposalCount)
	}
}

func TestPreviewRejectsOversizedArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge.urb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	if err := f.Truncate(archive.MaxArchiveSize + 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	_, err = Preview(path)
	if !errors.Is(err, vaulterrors.ErrArchiveTooLarge) {
		t.Fatalf("expected ErrArchiveTooLarge, got %v", err)
	}
}

func TestImportReplaceAllIntoFreshStore(t *testing.T) {
	archivePath, sourceDir := buildArchive(t, "CorrectTestPass123!")

	liveDir := t.TempDir()
	live, err := store.CreateEncrypted(liveDir, "LiveStorePass456!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	defer live.Close()

	summary, err := Import(live, archivePath, "CorrectTestPass123!", ReplaceAll, sourceDir, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if summary.ProposalsImported != 2 {
		t.Fatalf("ProposalsImported = %d, want 2", summary.ProposalsImported)
	}

	var count int
	if err := live.DB().QueryRow(`SELECT count(*) FROM proposals`).Scan(&count); err != nil {
		t.Fatalf("count proposals: %v", err)
	}
	if count != 2 {
		t.Fatalf("live proposals count = %d, want 2", count)
	}
}

func TestImportWrongPassphraseFails(t *testing.T) {
	archivePath, sourceDir := buildArchive(t, "CorrectTestPass123!")

	liveDir := t.TempDir()
	live, err := store.CreateEncrypted(liveDir, "LiveStorePass456!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	defer live.Close()

	_, err = Import(live, archivePath, "WrongPassphrase!", ReplaceAll, sourceDir, nil)
	if !errors.Is(err, vaulterrors.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestImportMergeSkipsExistingAndPreservesLiveData(t *testing.T) {
	archivePath, sourceDir := buildArchive(t, "CorrectTestPass123!")

	liveDir := t.TempDir()
	live, err := store.CreateEncrypted(liveDir, "LiveStorePass456!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	defer live.Close()
	seedProposal(t, live, "pre-existing live job")

	summary, err := Import(live, archivePath, "CorrectTestPass123!", MergeSkipDuplicates, sourceDir, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	// The live row takes id 1, which the archive's first proposal also
	// uses, so that archive row is skipped and only id 2 is merged.
	if summary.ProposalsImported != 1 {
		t.Fatalf("ProposalsImported = %d, want 1", summary.ProposalsImported)
	}

	var count int
	if err := live.DB().QueryRow(`SELECT count(*) FROM proposals`).Scan(&count); err != nil {
		t.Fatalf("count proposals: %v", err)
	}
	if count != 2 {
		t.Fatalf("live proposals count = %d, want 2 (1 pre-existing + 1 merged)", count)
	}
}

func TestImportPreservesReservedSettingsOnReplace(t *testing.T) {
	archivePath, sourceDir := buildArchive(t, "CorrectTestPass123!")

	liveDir := t.TempDir()
	live, err := store.CreateEncrypted(liveDir, "LiveStorePass456!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	defer live.Close()
	if _, err := live.DB().Exec(`UPDATE settings SET value = 'true' WHERE key = 'onboarding_completed'`); err != nil {
		t.Fatalf("seed onboarding flag: %v", err)
	}

	if _, err := Import(live, archivePath, "CorrectTestPass123!", ReplaceAll, sourceDir, nil); err != nil {
		t.Fatalf("Import: %v", err)
	}

	var val string
	if err := live.DB().QueryRow(`SELECT value FROM settings WHERE key = 'onboarding_completed'`).Scan(&val); err != nil {
		t.Fatalf("read onboarding flag: %v", err)
	}
	if val != "true" {
		t.Fatalf("onboarding_completed = %q, want preserved \"true\"", val)
	}
}
