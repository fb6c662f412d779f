package exporter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultcore/vaultcore/internal/archive"
	"github.com/vaultcore/vaultcore/internal/store"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

func openTestStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	s, err := store.CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExportProducesReadableArchive(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	exp := New("1.0.0", filepath.Join(dir, store.SaltFileName))

	dest := filepath.Join(dir, "export.urb")
	var events []ProgressEvent
	err := exp.Export(s, dest, nil, func(e ProgressEvent) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 progress events, got %d", len(events))
	}
	if events[len(events)-1].Phase != PhaseComplete {
		t.Fatalf("last event phase = %s, want %s", events[len(events)-1].Phase, PhaseComplete)
	}

	meta, salt, dbBytes, err := archive.ReadArchive(dest)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if meta.AppVersion != "1.0.0" {
		t.Fatalf("AppVersion = %q, want 1.0.0", meta.AppVersion)
	}
	if len(salt) != archive.SaltLength {
		t.Fatalf("salt length = %d, want %d", len(salt), archive.SaltLength)
	}
	if len(dbBytes) == 0 {
		t.Fatalf("expected non-empty db bytes")
	}
}

func TestExportRespectsCooldown(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	exp := New("1.0.0", filepath.Join(dir, store.SaltFileName))

	dest1 := filepath.Join(dir, "export1.urb")
	if err := exp.Export(s, dest1, nil, nil); err != nil {
		t.Fatalf("first Export: %v", err)
	}

	dest2 := filepath.Join(dir, "export2.urb")
	err := exp.Export(s, dest2, nil, nil)
	var rl *vaulterrors.RateLimitedResult
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedResult, got %v", err)
	}
	if rl.SecondsRemaining <= 0 {
		t.Fatalf("SecondsRemaining should be positive, got %d", rl.SecondsRemaining)
	}
	if _, err := os.Stat(dest2); err == nil {
		t.Fatalf("second export should not have produced a file")
	}
}

func TestVerifyArchiveRejectsBadSaltLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad-salt.urb")

	badSalt := make([]byte, archive.SaltLength+1)
	dbBytes := make([]byte, archive.MinPlausibleDbSize)
	if err := archive.WriteArchive(path, archive.Metadata{DbSizeBytes: uint64(len(dbBytes))}, badSalt[:archive.SaltLength], dbBytes); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	// Tamper the salt_length field in place so the file claims a salt size
	// ReadArchive itself would reject, exercising the same check
	// verifyArchive relies on for a freshly written export.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	metaLen := uint32(raw[4]) | uint32(raw[5])<<8 | uint32(raw[6])<<16 | uint32(raw[7])<<24
	saltLenOffset := 4 + 4 + int(metaLen)
	raw[saltLenOffset] = byte(archive.SaltLength + 1)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("rewrite archive: %v", err)
	}

	if err := verifyArchive(path); err == nil {
		t.Fatalf("expected verifyArchive to reject a tampered salt_length field")
	}
}
