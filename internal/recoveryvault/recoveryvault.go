// Package recoveryvault generates human-transcribable recovery secrets,
// protects them at rest under a passphrase, and provides a second cover of
// the DbKey that the recovery secret alone can decrypt.
//
// The AES-256-GCM shape (nonce-prepended ciphertext, tag appended by the
// GCM seal itself) follows the same construction as a plain secrets-manager
// would use; here the key always comes from keyderiver.DeriveKey, never a
// weaker hash.
package recoveryvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/vaultcore/vaultcore/internal/keyderiver"
	"github.com/vaultcore/vaultcore/internal/secureenv"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

const (
	// RecoveryKeyLength is the number of alphanumeric characters in a
	// generated recovery key (~190 bits of entropy).
	RecoveryKeyLength = 32
	nonceLength       = 12

	recoveryAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateRecoveryKey returns a fresh RecoveryKeyLength-character
// alphanumeric secret.
func GenerateRecoveryKey() (string, error) {
	out := make([]byte, RecoveryKeyLength)
	idx := make([]byte, RecoveryKeyLength)
	if _, err := rand.Read(idx); err != nil {
		return "", fmt.Errorf("generate recovery key: %w", err)
	}
	for i, b := range idx {
		out[i] = recoveryAlphabet[int(b)%len(recoveryAlphabet)]
	}
	return string(out), nil
}

// ValidateRecoveryKey checks the 32-alphanumeric-character shape.
func ValidateRecoveryKey(rk string) error {
	if len(rk) != RecoveryKeyLength {
		return fmt.Errorf("%w: recovery key must be %d characters, got %d", vaulterrors.ErrInvalidFormat, RecoveryKeyLength, len(rk))
	}
	for _, r := range rk {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum {
			return fmt.Errorf("%w: recovery key must be alphanumeric", vaulterrors.ErrInvalidFormat)
		}
	}
	return nil
}

// sealString encrypts plaintext under a passphrase-derived key and encodes
// it in the stable wire format "<argon2-salt-b64>:<base64(nonce||ciphertext||tag)>".
func sealString(plaintext []byte, passphrase string) (string, error) {
	salt, err := keyderiver.GenerateSalt()
	if err != nil {
		return "", fmt.Errorf("%w: %v", vaulterrors.ErrKeyDerivation, err)
	}
	key, err := keyderiver.DeriveKey(passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vaulterrors.ErrKeyDerivation, err)
	}
	defer key.Destroy()

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return "", fmt.Errorf("%w: %v", vaulterrors.ErrKeyDerivation, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vaulterrors.ErrKeyDerivation, err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", vaulterrors.ErrKeyDerivation, err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	saltB64 := base64.StdEncoding.EncodeToString(salt[:])
	return saltB64 + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// openString is the inverse of sealString. Wrong passphrase fails the GCM
// tag check and returns vaulterrors.ErrDecryption — it never silently
// succeeds.
func openString(ciphertext string, passphrase string) ([]byte, error) {
	parts := strings.SplitN(ciphertext, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: expected \"salt:payload\"", vaulterrors.ErrInvalidFormat)
	}

	saltBytes, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(saltBytes) != keyderiver.SaltLength {
		return nil, fmt.Errorf("%w: malformed salt", vaulterrors.ErrInvalidFormat)
	}

	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed payload", vaulterrors.ErrInvalidFormat)
	}
	if len(sealed) < nonceLength {
		return nil, fmt.Errorf("%w: payload shorter than nonce", vaulterrors.ErrInvalidFormat)
	}

	key, err := keyderiver.DeriveKeySlice(passphrase, saltBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vaulterrors.ErrKeyDerivation, err)
	}
	defer key.Destroy()

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vaulterrors.ErrDecryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vaulterrors.ErrDecryption, err)
	}

	nonce, ciphertextBytes := sealed[:nonceLength], sealed[nonceLength:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return nil, vaulterrors.ErrDecryption
	}
	return plaintext, nil
}

// EncryptRecoveryKey protects rk under passphrase, producing the stable
// on-disk wire format.
func EncryptRecoveryKey(rk string, passphrase string) (string, error) {
	return sealString([]byte(rk), passphrase)
}

// DecryptRecoveryKey recovers rk given the matching passphrase.
func DecryptRecoveryKey(ciphertext string, passphrase string) (string, error) {
	plaintext, err := openString(ciphertext, passphrase)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// WrapDbKey wraps a 32-byte DbKey under a key derived from rk, using the
// same construction as EncryptRecoveryKey.
func WrapDbKey(dbKey []byte, rk string) (string, error) {
	if len(dbKey) != keyderiver.KeyLength {
		return "", fmt.Errorf("%w: db key must be %d bytes, got %d", vaulterrors.ErrInvalidFormat, keyderiver.KeyLength, len(dbKey))
	}
	return sealString(dbKey, rk)
}

// UnwrapDbKey recovers the 32-byte DbKey given the matching recovery key.
// The returned Key must be Destroyed by the caller.
func UnwrapDbKey(wrapped string, rk string) (*secureenv.Key, error) {
	plaintext, err := openString(wrapped, rk)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != keyderiver.KeyLength {
		return nil, fmt.Errorf("%w: unwrapped key has wrong length %d", vaulterrors.ErrInvalidFormat, len(plaintext))
	}
	return secureenv.NewKey(plaintext), nil
}
