// Package vaulterrors defines the error taxonomy shared by every subsystem:
// KeyDeriver, RecoveryVault, Store, ArchiveCodec, Importer, Exporter,
// Migrator, HealthCheck and FeedbackLedger.
//
// Sentinel errors are matched with errors.Is; the payload-carrying variants
// (SchemaMismatchError, RateLimitedResult) are matched with errors.As.
// Most wrapped errors append the underlying driver or OS error text after
// the taxonomy member's message, and the CLI prints the whole message, so
// that raw text reaches the user; nothing in this module logs it separately.
package vaulterrors

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyDerivation covers KDF failure or a salt of the wrong length.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrIncorrectPassphrase means the cipher could not open the file under
	// the derived key. Always re-promptable; never a corruption signal.
	ErrIncorrectPassphrase = errors.New("incorrect passphrase")

	// ErrPassphraseError covers a missing or unreadable salt file, or any
	// other failure before a key could even be derived.
	ErrPassphraseError = errors.New("passphrase error")

	// ErrCorrupted signals a store or archive that opened but failed an
	// integrity probe.
	ErrCorrupted = errors.New("corrupted database")

	// ErrInvalidFormat covers archive magic, length fields, or recovery-key
	// shape rejections.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrDecryption covers archive payload or wrapped-key authentication
	// failure (wrong passphrase, wrong recovery key, or tampering).
	ErrDecryption = errors.New("decryption failed")

	// ErrArchiveTooLarge is a pre-flight refusal on the preview path.
	ErrArchiveTooLarge = errors.New("archive exceeds maximum size")

	// ErrDiskSpaceInsufficient is a pre-flight refusal on the import path.
	ErrDiskSpaceInsufficient = errors.New("insufficient disk space for import")

	// ErrImportFailed covers any in-transaction import failure that was
	// rolled back successfully. The exporter also wraps archive write and
	// verification failures in it, and the migrator its legacy-copy failures.
	ErrImportFailed = errors.New("import failed")

	// ErrRollbackFailed is distinguished from ErrImportFailed so the
	// operator knows data may be left in an intermediate state.
	ErrRollbackFailed = errors.New("rollback failed after import error")

	// ErrDatabase is the catch-all for internal database errors not mapped
	// to a more specific taxonomy member.
	ErrDatabase = errors.New("database error")

	// ErrDatabaseLocked covers a busy/locked connection.
	ErrDatabaseLocked = errors.New("database locked")

	// ErrValidation covers user-addressable input validation failures.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateFeedback is returned when feedback for a job was already
	// submitted within the 24-hour window.
	ErrDuplicateFeedback = errors.New("feedback already submitted in the last 24 hours")

	// ErrNoBackupFound / ErrBackupMissing cover the update-rollback path.
	ErrNoBackupFound = errors.New("no pre-update backup recorded")
	ErrBackupMissing = errors.New("pre-update backup file missing")
	ErrFileOpFailed  = errors.New("rollback file operation failed")
)

// SchemaMismatchError reports that an archive's schema version does not
// equal the live store's. Both OlderArchive and NewerArchive map here; see
// SPEC_FULL.md §9 for the decision to reject rather than forward-map.
type SchemaMismatchError struct {
	ArchiveVersion int
	LiveVersion    int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("archive schema version %d does not match live store version %d", e.ArchiveVersion, e.LiveVersion)
}

// RateLimitedResult is not an error in the traditional sense: Exporter
// returns it as a structured "success=false" payload so the UI can render a
// countdown rather than an error dialog.
type RateLimitedResult struct {
	SecondsRemaining int
}

func (r *RateLimitedResult) Error() string {
	return fmt.Sprintf("rate limited: retry in %d seconds", r.SecondsRemaining)
}
