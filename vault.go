// Package vault is the public entry point for the encrypted local data
// store: it wires KeyDeriver, RecoveryVault, Store, ArchiveCodec,
// Exporter, Importer, Migrator, HealthCheck, and FeedbackLedger behind a
// single host-facing type. The cmd/vaultctl CLI is a thin cobra shell over
// this package's methods.
package vault

import (
	"os"
	"path/filepath"

	"github.com/vaultcore/vaultcore/internal/archive"
	"github.com/vaultcore/vaultcore/internal/exporter"
	"github.com/vaultcore/vaultcore/internal/feedback"
	"github.com/vaultcore/vaultcore/internal/healthcheck"
	"github.com/vaultcore/vaultcore/internal/importer"
	"github.com/vaultcore/vaultcore/internal/keyderiver"
	"github.com/vaultcore/vaultcore/internal/migrator"
	"github.com/vaultcore/vaultcore/internal/recoveryvault"
	"github.com/vaultcore/vaultcore/internal/store"
)

// Vault is the lazy-init handle the host launches before the user has
// necessarily unlocked anything. Every method that needs the underlying
// Store goes through appStore.Get(), which returns the exact
// "passphrase required" error text until Create/Unlock/UnlockWithRecoveryKey
// has been called.
type Vault struct {
	appDataDir string
	appVersion string
	appStore   store.AppStore
	exporter   *exporter.Exporter
}

// New builds a Vault rooted at appDataDir. appVersion is stamped into
// archive metadata and compared against the installed_version setting by
// HealthCheck.
func New(appDataDir, appVersion string) *Vault {
	return &Vault{
		appDataDir: appDataDir,
		appVersion: appVersion,
		exporter:   exporter.New(appVersion, filepath.Join(appDataDir, store.SaltFileName)),
	}
}

// Exists reports whether an encrypted store already lives at appDataDir.
func (v *Vault) Exists() bool {
	_, err := os.Stat(filepath.Join(v.appDataDir, store.DatabaseFileName))
	return err == nil
}

// LegacyUnencryptedExists reports whether a pre-encryption database is
// present and not yet migrated, per the path contract in SPEC_FULL.md §6.1.
func (v *Vault) LegacyUnencryptedExists(legacyPath string) bool {
	if migrator.AlreadyMigrated(v.appDataDir) {
		return false
	}
	_, err := os.Stat(legacyPath)
	return err == nil
}

// Create establishes a brand new encrypted store under passphrase and
// immediately generates a recovery key, returning it for one-time display.
// The caller MUST show this value to the user exactly once; it is not
// retrievable afterward.
func (v *Vault) Create(passphrase string) (recoveryKey string, err error) {
	s, err := store.CreateEncrypted(v.appDataDir, passphrase)
	if err != nil {
		return "", err
	}

	salt, err := store.ReadSaltFile(v.appDataDir)
	if err != nil {
		s.Close()
		return "", err
	}
	key, err := keyderiver.DeriveKeySlice(passphrase, salt)
	if err != nil {
		s.Close()
		return "", err
	}
	rk, err := recoveryvault.Establish(v.appDataDir, key, passphrase)
	key.Destroy()
	if err != nil {
		s.Close()
		return "", err
	}

	v.appStore.Set(s)
	return rk, nil
}

// Unlock opens the existing store with the user's passphrase.
func (v *Vault) Unlock(passphrase string) error {
	s, err := store.OpenEncrypted(v.appDataDir, passphrase)
	if err != nil {
		return err
	}
	v.appStore.Set(s)
	return nil
}

// UnlockWithRecoveryKey opens the existing store using the one-time
// recovery secret instead of the passphrase, for the "forgot my passphrase"
// path.
func (v *Vault) UnlockWithRecoveryKey(recoveryKey string) error {
	key, err := recoveryvault.UnlockDbKey(v.appDataDir, recoveryKey)
	if err != nil {
		return err
	}
	defer key.Destroy()

	s, err := store.OpenWithKey(v.appDataDir, key)
	if err != nil {
		return err
	}
	v.appStore.Set(s)
	return nil
}

// Rekey changes the unlocked store's passphrase and rotates the recovery
// sidecar so the existing recovery key keeps working against the new
// DbKey.
func (v *Vault) Rekey(oldPassphrase, newPassphrase string) error {
	s, err := v.appStore.Get()
	if err != nil {
		return err
	}

	newKey, err := s.Rekey(newPassphrase, v.appDataDir)
	if err != nil {
		return err
	}
	defer newKey.Destroy()

	return recoveryvault.RotatePassphrase(v.appDataDir, oldPassphrase, newKey, newPassphrase)
}

// Close releases the underlying store handle, if any.
func (v *Vault) Close() error {
	return v.appStore.Clear()
}

// Migrate converts a preexisting unencrypted database into this vault's
// encrypted store. Call before Unlock/Create — it establishes the
// database file Create/Unlock would otherwise expect to find.
func (v *Vault) Migrate(legacyPath, newPassphrase string) (migrator.Result, error) {
	return migrator.Migrate(v.appDataDir, legacyPath, newPassphrase)
}

// Export snapshots the unlocked store to a URB1 archive at destPath.
func (v *Vault) Export(destPath string, passphraseHint *string, onProgress func(exporter.ProgressEvent)) error {
	s, err := v.appStore.Get()
	if err != nil {
		return err
	}
	return v.exporter.Export(s, destPath, passphraseHint, onProgress)
}

// PreviewImport returns an archive's header metadata for display before
// committing to an import.
func (v *Vault) PreviewImport(archivePath string) (archive.Metadata, error) {
	return importer.Preview(archivePath)
}

// Import reconstructs the unlocked store's contents from an archive.
func (v *Vault) Import(archivePath, archivePassphrase string, mode importer.Mode, onProgress func(importer.ProgressEvent)) (importer.Summary, error) {
	s, err := v.appStore.Get()
	if err != nil {
		return importer.Summary{}, err
	}
	return importer.Import(s, archivePath, archivePassphrase, mode, v.appDataDir, onProgress)
}

// HealthCheck runs the bounded post-update probe suite against the
// unlocked store.
func (v *Vault) HealthCheck() (healthcheck.Result, error) {
	s, err := v.appStore.Get()
	if err != nil {
		return healthcheck.Result{}, err
	}
	return healthcheck.Run(s.DB()), nil
}

// DetectUpdate compares currentVersion against the store's recorded
// installed_version.
func (v *Vault) DetectUpdate(currentVersion string) (bool, error) {
	s, err := v.appStore.Get()
	if err != nil {
		return false, err
	}
	return healthcheck.DetectUpdate(s.DB(), currentVersion)
}

// ConfirmUpdateHealthy backs up the currently running executable and
// advances installed_version/clears update_detected, called once doctor has
// verified the new binary still operates against the existing store.
func (v *Vault) ConfirmUpdateHealthy(execPath string) error {
	s, err := v.appStore.Get()
	if err != nil {
		return err
	}
	if err := healthcheck.BackupBinary(s.DB(), v.appDataDir, execPath, v.appVersion); err != nil {
		return err
	}
	return healthcheck.ClearUpdateFlag(s.DB(), v.appVersion)
}

// RollbackUpdate restores the previously backed-up executable over execPath,
// for when doctor reports the new binary cannot operate against the
// existing store.
func (v *Vault) RollbackUpdate(execPath string) error {
	s, err := v.appStore.Get()
	if err != nil {
		return err
	}
	backup, err := healthcheck.ReadPreUpdateBackup(s.DB())
	if err != nil {
		return err
	}
	return healthcheck.RollbackBinary(s.DB(), execPath, backup.Path, v.appVersion)
}

// UpdateFailedPreviously reports whether version already failed a rollback
// once, so the caller can refuse to retry it silently.
func (v *Vault) UpdateFailedPreviously(version string) (bool, error) {
	s, err := v.appStore.Get()
	if err != nil {
		return false, err
	}
	return healthcheck.HasFailedVersion(s.DB(), version)
}

// CanReportFeedback reports whether jobPostID may receive new scoring
// feedback right now.
func (v *Vault) CanReportFeedback(jobPostID int64) (feedback.CanReportResult, error) {
	s, err := v.appStore.Get()
	if err != nil {
		return feedback.CanReportResult{}, err
	}
	return feedback.CanReport(s.DB(), jobPostID)
}

// SubmitFeedback records a scoring-feedback report.
func (v *Vault) SubmitFeedback(input feedback.Input) (feedback.SubmitResult, error) {
	s, err := v.appStore.Get()
	if err != nil {
		return feedback.SubmitResult{}, err
	}
	return feedback.Submit(s.DB(), input, v.appVersion)
}

