package recoveryvault

import (
	"bytes"
	"testing"

	"github.com/vaultcore/vaultcore/internal/secureenv"
)

func TestEstablishThenUnlockDbKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbKey := secureenv.NewKey(bytes.Repeat([]byte{0x11}, 32))
	defer dbKey.Destroy()

	rk, err := Establish(dir, dbKey, "OriginalPass123!")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if err := ValidateRecoveryKey(rk); err != nil {
		t.Fatalf("generated rk failed validation: %v", err)
	}

	recovered, err := UnlockDbKey(dir, rk)
	if err != nil {
		t.Fatalf("UnlockDbKey: %v", err)
	}
	defer recovered.Destroy()

	if !bytes.Equal(recovered.Bytes(), dbKey.Bytes()) {
		t.Fatalf("recovered key mismatch")
	}
}

func TestRotatePassphraseAllowsRecoveryWithNewDbKey(t *testing.T) {
	dir := t.TempDir()
	oldKey := secureenv.NewKey(bytes.Repeat([]byte{0x22}, 32))
	defer oldKey.Destroy()

	rk, err := Establish(dir, oldKey, "OriginalPass123!")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}

	newKey := secureenv.NewKey(bytes.Repeat([]byte{0x33}, 32))
	defer newKey.Destroy()

	if err := RotatePassphrase(dir, "OriginalPass123!", newKey, "NewSecurePass456!"); err != nil {
		t.Fatalf("RotatePassphrase: %v", err)
	}

	recovered, err := UnlockDbKey(dir, rk)
	if err != nil {
		t.Fatalf("UnlockDbKey after rotation: %v", err)
	}
	defer recovered.Destroy()

	if !bytes.Equal(recovered.Bytes(), newKey.Bytes()) {
		t.Fatalf("expected recovered key to equal the new db key after rotation")
	}
}

func TestRotatePassphraseNoopWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	newKey := secureenv.NewKey(bytes.Repeat([]byte{0x44}, 32))
	defer newKey.Destroy()

	if err := RotatePassphrase(dir, "whatever", newKey, "whatever-new"); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
	if HasSidecar(dir) {
		t.Fatalf("expected no sidecar to be created by a no-op rotation")
	}
}
