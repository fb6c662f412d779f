package recoveryvault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

func TestGenerateRecoveryKeyShapeIsValid(t *testing.T) {
	rk, err := GenerateRecoveryKey()
	if err != nil {
		t.Fatalf("GenerateRecoveryKey: %v", err)
	}
	if err := ValidateRecoveryKey(rk); err != nil {
		t.Fatalf("generated recovery key failed validation: %v", err)
	}
}

func TestValidateRecoveryKeyRejectsBadShapes(t *testing.T) {
	cases := []string{
		"tooshort",
		"this-has-a-dash-in-it-and-is-32c",
		"",
	}
	for _, c := range cases {
		if err := ValidateRecoveryKey(c); err == nil {
			t.Fatalf("expected ValidateRecoveryKey(%q) to fail", c)
		}
	}
}

func TestEncryptDecryptRecoveryKeyRoundTrip(t *testing.T) {
	rk, _ := GenerateRecoveryKey()
	ciphertext, err := EncryptRecoveryKey(rk, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("EncryptRecoveryKey: %v", err)
	}

	got, err := DecryptRecoveryKey(ciphertext, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("DecryptRecoveryKey: %v", err)
	}
	if got != rk {
		t.Fatalf("round-trip mismatch: got %q, want %q", got, rk)
	}
}

func TestDecryptRecoveryKeyWrongPassphraseFails(t *testing.T) {
	rk, _ := GenerateRecoveryKey()
	ciphertext, _ := EncryptRecoveryKey(rk, "OriginalPass123!")

	_, err := DecryptRecoveryKey(ciphertext, "WrongPassword456!")
	if !errors.Is(err, vaulterrors.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestWrapUnwrapDbKeyRoundTrip(t *testing.T) {
	dbKey := bytes.Repeat([]byte{0x42}, 32)
	rk, _ := GenerateRecoveryKey()

	wrapped, err := WrapDbKey(dbKey, rk)
	if err != nil {
		t.Fatalf("WrapDbKey: %v", err)
	}

	unwrapped, err := UnwrapDbKey(wrapped, rk)
	if err != nil {
		t.Fatalf("UnwrapDbKey: %v", err)
	}
	defer unwrapped.Destroy()

	if !bytes.Equal(unwrapped.Bytes(), dbKey) {
		t.Fatalf("unwrap mismatch: got %x, want %x", unwrapped.Bytes(), dbKey)
	}
}

func TestWrapDbKeyRejectsWrongLength(t *testing.T) {
	rk, _ := GenerateRecoveryKey()
	if _, err := WrapDbKey([]byte{1, 2, 3}, rk); err == nil {
		t.Fatalf("expected error for short db key")
	}
}

func TestUnwrapDbKeyWrongRecoveryKeyFails(t *testing.T) {
	dbKey := bytes.Repeat([]byte{0x99}, 32)
	rk, _ := GenerateRecoveryKey()
	wrapped, _ := WrapDbKey(dbKey, rk)

	otherRK, _ := GenerateRecoveryKey()
	_, err := UnwrapDbKey(wrapped, otherRK)
	if !errors.Is(err, vaulterrors.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}
