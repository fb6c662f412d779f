package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

func TestCreateThenOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("OpenEncrypted with correct passphrase: %v", err)
	}
	defer s2.Close()

	var version int
	if err := s2.DB().QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_history`).Scan(&version); err != nil {
		t.Fatalf("query schema_history: %v", err)
	}
	if version != SchemaVersion() {
		t.Fatalf("schema version = %d, want %d", version, SchemaVersion())
	}
}

func TestOpenWithWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()

	s, err := CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = OpenEncrypted(dir, "WrongPassword456!")
	if !errors.Is(err, vaulterrors.ErrIncorrectPassphrase) {
		t.Fatalf("expected ErrIncorrectPassphrase, got %v", err)
	}
}

func TestCreateEncryptedRejectsExistingVault(t *testing.T) {
	dir := t.TempDir()

	s, err := CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	s.Close()

	if _, err := CreateEncrypted(dir, "AnotherPass789!"); err == nil {
		t.Fatalf("expected error creating a second vault at the same path")
	}
}

func TestPassphraseMinimumLengthEnforced(t *testing.T) {
	dir := t.TempDir()

	short := "Short11Chr" // 10 characters
	if _, err := CreateEncrypted(dir, short); !errors.Is(err, vaulterrors.ErrValidation) {
		t.Fatalf("expected ErrValidation for a %d-character passphrase, got %v", len(short), err)
	}

	eleven := "Eleven12Ch1" // 11 characters
	if len(eleven) != 11 {
		t.Fatalf("test fixture drifted: eleven is %d characters", len(eleven))
	}
	if _, err := CreateEncrypted(dir, eleven); !errors.Is(err, vaulterrors.ErrValidation) {
		t.Fatalf("expected ErrValidation for an 11-character passphrase, got %v", err)
	}

	twelve := "Twelve123Ch1" // 12 characters
	if len(twelve) != 12 {
		t.Fatalf("test fixture drifted: twelve is %d characters", len(twelve))
	}
	s, err := CreateEncrypted(dir, twelve)
	if err != nil {
		t.Fatalf("expected a 12-character passphrase to be accepted, got %v", err)
	}
	defer s.Close()

	if _, err := s.Rekey("Short11Chr", dir); !errors.Is(err, vaulterrors.ErrValidation) {
		t.Fatalf("expected Rekey to reject a short new passphrase, got %v", err)
	}
	newKey, err := s.Rekey("NewTwelveCh1", dir)
	if err != nil {
		t.Fatalf("expected Rekey to accept a 12-character passphrase, got %v", err)
	}
	newKey.Destroy()
}

func TestRekeySurvivesOldPassphraseFailsNewSucceeds(t *testing.T) {
	dir := t.TempDir()

	s, err := CreateEncrypted(dir, "OldPass1234!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}

	newKey, err := s.Rekey("NewPass4567!", dir)
	if err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	newKey.Destroy()
	s.Close()

	if _, err := OpenEncrypted(dir, "OldPass1234!"); !errors.Is(err, vaulterrors.ErrIncorrectPassphrase) {
		t.Fatalf("expected old passphrase to fail after rekey, got %v", err)
	}

	s2, err := OpenEncrypted(dir, "NewPass4567!")
	if err != nil {
		t.Fatalf("expected new passphrase to open after rekey: %v", err)
	}
	defer s2.Close()
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	defer s.Close()

	if err := RunMigrations(s.DB()); err != nil {
		t.Fatalf("second RunMigrations call should be a no-op, got error: %v", err)
	}
}

func TestAppStoreNotReadyReturnsPassphraseRequired(t *testing.T) {
	var a AppStore
	if a.IsReady() {
		t.Fatalf("fresh AppStore should not be ready")
	}
	_, err := a.Get()
	if err == nil || err.Error() != "passphrase required" {
		t.Fatalf("expected \"passphrase required\" error, got %v", err)
	}
}

func TestAppStoreSetThenGet(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	defer s.Close()

	var a AppStore
	a.Set(s)
	if !a.IsReady() {
		t.Fatalf("AppStore should report ready after Set")
	}
	got, err := a.Get()
	if err != nil {
		t.Fatalf("Get after Set: %v", err)
	}
	if got != s {
		t.Fatalf("Get returned a different store than was Set")
	}
}

func TestReservedSettingsKeysCoverUpdateBookkeeping(t *testing.T) {
	want := []string{"db_version", "installed_version", "failed_update_versions", "pre_update_backup"}
	for _, k := range want {
		found := false
		for _, rk := range ReservedSettingsKeys {
			if rk == k {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("ReservedSettingsKeys missing %q", k)
		}
	}
}

func TestDatabaseFileCreatedAtExpectedPath(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	defer s.Close()

	if s.Path() != filepath.Join(dir, DatabaseFileName) {
		t.Fatalf("Path() = %s, want %s", s.Path(), filepath.Join(dir, DatabaseFileName))
	}
}
