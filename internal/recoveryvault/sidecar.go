package recoveryvault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultcore/vaultcore/internal/secureenv"
)

// SidecarFileName holds the wrapped-key material needed to unlock via
// recovery secret. It lives outside the encrypted database file itself —
// by construction the database cannot be read to fetch its own recovery
// wrap before it has been unlocked.
const SidecarFileName = "vault.recovery"

// Sidecar is the on-disk recovery record for one store.
type Sidecar struct {
	// WrappedDbKey is the DbKey encrypted under a key derived from the
	// recovery secret (SPEC_FULL.md §3, "WrappedDbKey").
	WrappedDbKey string `json:"wrappedDbKey"`
	// RecoveryWrapOfRecoveryKey is the recovery secret encrypted under a
	// key derived from the passphrase, used to rotate the passphrase
	// without discarding the recovery secret.
	RecoveryWrapOfRecoveryKey string `json:"recoveryWrapOfRecoveryKey"`
}

func sidecarPath(appDataDir string) string {
	return filepath.Join(appDataDir, SidecarFileName)
}

// WriteSidecar atomically persists s to appDataDir.
func WriteSidecar(appDataDir string, s Sidecar) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal recovery sidecar: %w", err)
	}
	tmp := sidecarPath(appDataDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write recovery sidecar: %w", err)
	}
	if err := os.Rename(tmp, sidecarPath(appDataDir)); err != nil {
		return fmt.Errorf("rename recovery sidecar into place: %w", err)
	}
	return nil
}

// ReadSidecar loads the recovery sidecar for appDataDir. Returns
// os.ErrNotExist (wrapped) if no recovery key has ever been established.
func ReadSidecar(appDataDir string) (Sidecar, error) {
	data, err := os.ReadFile(sidecarPath(appDataDir))
	if err != nil {
		return Sidecar{}, err
	}
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return Sidecar{}, fmt.Errorf("parse recovery sidecar: %w", err)
	}
	return s, nil
}

// HasSidecar reports whether a recovery key has ever been established for
// appDataDir.
func HasSidecar(appDataDir string) bool {
	_, err := os.Stat(sidecarPath(appDataDir))
	return err == nil
}

// Establish generates a fresh recovery key, wraps dbKey under it, wraps
// the recovery key itself under passphrase, and persists both to the
// sidecar. Returns the plaintext recovery key for one-time display.
func Establish(appDataDir string, dbKey *secureenv.Key, passphrase string) (string, error) {
	rk, err := GenerateRecoveryKey()
	if err != nil {
		return "", err
	}

	wrappedDbKey, err := WrapDbKey(dbKey.Bytes(), rk)
	if err != nil {
		return "", err
	}
	wrappedRK, err := EncryptRecoveryKey(rk, passphrase)
	if err != nil {
		return "", err
	}

	if err := WriteSidecar(appDataDir, Sidecar{WrappedDbKey: wrappedDbKey, RecoveryWrapOfRecoveryKey: wrappedRK}); err != nil {
		return "", err
	}
	return rk, nil
}

// UnlockDbKey recovers the DbKey for appDataDir given the recovery secret.
func UnlockDbKey(appDataDir string, recoveryKey string) (*secureenv.Key, error) {
	sc, err := ReadSidecar(appDataDir)
	if err != nil {
		return nil, fmt.Errorf("read recovery sidecar: %w", err)
	}
	return UnwrapDbKey(sc.WrappedDbKey, recoveryKey)
}

// RotatePassphrase re-wraps both sides of the sidecar after a passphrase
// change: it recovers the plaintext recovery key using oldPassphrase, then
// re-wraps newDbKey under that same recovery key and re-encrypts the
// recovery key under newPassphrase. A store with no established sidecar is
// left untouched (nothing to rotate).
func RotatePassphrase(appDataDir string, oldPassphrase string, newDbKey *secureenv.Key, newPassphrase string) error {
	if !HasSidecar(appDataDir) {
		return nil
	}
	sc, err := ReadSidecar(appDataDir)
	if err != nil {
		return fmt.Errorf("read recovery sidecar: %w", err)
	}

	rk, err := DecryptRecoveryKey(sc.RecoveryWrapOfRecoveryKey, oldPassphrase)
	if err != nil {
		return fmt.Errorf("decrypt recovery wrap with old passphrase: %w", err)
	}

	newWrappedDbKey, err := WrapDbKey(newDbKey.Bytes(), rk)
	if err != nil {
		return err
	}
	newWrappedRK, err := EncryptRecoveryKey(rk, newPassphrase)
	if err != nil {
		return err
	}

	return WriteSidecar(appDataDir, Sidecar{WrappedDbKey: newWrappedDbKey, RecoveryWrapOfRecoveryKey: newWrappedRK})
}
