package archive

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

func hintPtr(s string) *string { return &s }

func sampleMetadata() Metadata {
	return Metadata{
		FormatVersion:     1,
		ExportDate:        "2026-07-31T00:00:00Z",
		AppVersion:        "1.0.0",
		PassphraseHint:    hintPtr("my secret hint"),
		ProposalCount:     42,
		RevisionCount:     123,
		JobPostCount:      89,
		SettingsCount:     12,
		VoiceProfileCount: 1,
		DbSizeBytes:       1024,
	}
}

func sampleSalt() []byte {
	s := make([]byte, SaltLength)
	for i := range s {
		s[i] = byte(i + 1)
	}
	return s
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")

	meta := sampleMetadata()
	salt := sampleSalt()
	db := bytes.Repeat([]byte{0xFF}, 1024)

	if err := WriteArchive(path, meta, salt, db); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	gotMeta, gotSalt, gotDB, err := ReadArchive(path)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if !reflect.DeepEqual(gotMeta, meta) {
		t.Fatalf("metadata mismatch: got %+v, want %+v", gotMeta, meta)
	}
	if !bytes.Equal(gotSalt, salt) {
		t.Fatalf("salt mismatch")
	}
	if !bytes.Equal(gotDB, db) {
		t.Fatalf("db bytes mismatch")
	}
}

func TestReadMetadataOnlyDoesNotRequireValidDbPortion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")

	meta := sampleMetadata()
	if err := WriteArchive(path, meta, sampleSalt(), []byte{0x01}); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	got, err := ReadMetadataOnly(path)
	if err != nil {
		t.Fatalf("ReadMetadataOnly: %v", err)
	}
	if !reflect.DeepEqual(got, meta) {
		t.Fatalf("metadata mismatch: got %+v, want %+v", got, meta)
	}
}

func TestWriteArchiveRejectsEmptyDb(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")
	if err := WriteArchive(path, sampleMetadata(), sampleSalt(), nil); err == nil {
		t.Fatalf("expected error writing an archive with an empty database")
	}
}

func TestWriteArchiveRejectsBadSaltLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")
	if err := WriteArchive(path, sampleMetadata(), []byte{1, 2, 3}, []byte{0xAA}); err == nil {
		t.Fatalf("expected error writing an archive with a short salt")
	}
}

func TestReadArchiveRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")
	if err := os.WriteFile(path, []byte("NOPE1234567890"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, _, _, err := ReadArchive(path)
	if !errors.Is(err, vaulterrors.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestReadArchiveRejectsTruncatedMetadataLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")

	var buf bytes.Buffer
	buf.WriteString(magic)
	if err := writeU32(&buf, 1_000_000); err != nil {
		t.Fatalf("writeU32: %v", err)
	}
	buf.WriteString("short")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, _, _, err := ReadArchive(path)
	if !errors.Is(err, vaulterrors.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestReadMetadataOnlyRejectsOversizedMetadataLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")

	var buf bytes.Buffer
	buf.WriteString(magic)
	if err := writeU32(&buf, MaxMetadataLength+1); err != nil {
		t.Fatalf("writeU32: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err := ReadMetadataOnly(path)
	if !errors.Is(err, vaulterrors.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestReadMetadataOnlyRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.urb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	if err := f.Truncate(MaxArchiveSize + 1); err != nil {
		t.Fatalf("truncate fixture: %v", err)
	}
	f.Close()

	_, err = ReadMetadataOnly(path)
	if !errors.Is(err, vaulterrors.ErrArchiveTooLarge) {
		t.Fatalf("expected ErrArchiveTooLarge, got %v", err)
	}
}
