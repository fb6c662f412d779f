// Package store owns the single encrypted SQLCipher-backed database file
// that backs the whole application: opening it, creating it fresh, and
// re-keying it in place. Every other component (archive, importer,
// migrator, healthcheck, feedback) operates on the *sql.DB this package
// hands out rather than touching the file directly.
package store

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/gofrs/flock"

	"github.com/vaultcore/vaultcore/internal/keyderiver"
	"github.com/vaultcore/vaultcore/internal/secureenv"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

const (
	// DatabaseFileName is the single encrypted database file inside the
	// app data directory.
	DatabaseFileName = "vault.db"
	// SaltFileName stores the Argon2id salt alongside the encrypted
	// database; the salt itself is not secret, only the passphrase is.
	SaltFileName = "vault.salt"
	lockFileName = "vault.lock"

	cipherCompatibility = 4
)

// Store is a single open handle on the encrypted database file, safe for
// concurrent use by multiple goroutines through its own mutex-guarded
// accessor (SPEC_FULL.md §5: one physical connection, serialized access).
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	lock *flock.Flock
}

// DB returns the underlying *sql.DB. Callers should still serialize
// write-heavy sequences (e.g. importer, migrator) by holding Lock/Unlock.
func (s *Store) DB() *sql.DB { return s.db }

// Lock acquires the in-process mutex guarding multi-statement sequences
// that must not interleave with a concurrent caller (import, rekey,
// migration). Not reentrant: a caller already holding it must not call Lock
// again.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// Path returns the on-disk path of the encrypted database file.
func (s *Store) Path() string { return s.path }

// Close releases the database handle and the single-instance file lock.
func (s *Store) Close() error {
	var errs []error
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dbPath(appDataDir string) string   { return filepath.Join(appDataDir, DatabaseFileName) }
func saltPath(appDataDir string) string { return filepath.Join(appDataDir, SaltFileName) }
func lockPath(appDataDir string) string { return filepath.Join(appDataDir, lockFileName) }

func acquireSingleInstanceLock(appDataDir string) (*flock.Flock, error) {
	fl := flock.New(lockPath(appDataDir))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another process is using this vault", vaulterrors.ErrDatabaseLocked)
	}
	return fl, nil
}

func readSalt(appDataDir string) ([]byte, error) {
	raw, err := os.ReadFile(saltPath(appDataDir))
	if err != nil {
		return nil, fmt.Errorf("%w: read salt file: %v", vaulterrors.ErrPassphraseError, err)
	}
	salt, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(salt) != keyderiver.SaltLength {
		return nil, fmt.Errorf("%w: malformed salt file", vaulterrors.ErrCorrupted)
	}
	return salt, nil
}

func writeSalt(path string, salt []byte) error {
	return os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(salt)), 0o600)
}

// openSQLCipher opens the database file at path under key and sets the
// pragmas every open (create or unlock) needs: the cipher key itself,
// cipher_compatibility for stable on-disk format across go-sqlcipher
// versions, WAL for concurrent readers during long exports, and foreign
// key enforcement.
func openSQLCipher(path string, key *secureenv.Key) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}
	db.SetMaxOpenConns(1)

	hexKey := key.Hex()
	defer hexKey.Destroy()

	if _, err := db.Exec(fmt.Sprintf(`PRAGMA key = "x'%s'"`, hexKey.Bytes())); err != nil {
		db.Close()
		return nil, fmt.Errorf("set cipher key: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA cipher_compatibility = %d`, cipherCompatibility)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set cipher_compatibility: %w", err)
	}

	// A cipher-key mismatch only surfaces once SQLCipher actually reads a
	// page; a count query against sqlite_master forces that read now,
	// before the journal_mode pragma below reads the file header.
	if _, err := db.Exec(`SELECT count(*) FROM sqlite_master`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", vaulterrors.ErrIncorrectPassphrase, err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return db, nil
}

// CreateEncrypted initializes a brand new encrypted store at appDataDir: a
// fresh salt, a DbKey derived from passphrase, and a fully migrated schema.
// Fails if a database file already exists there.
func CreateEncrypted(appDataDir string, passphrase string) (*Store, error) {
	if len(passphrase) < keyderiver.MinPassphraseLength {
		return nil, fmt.Errorf("%w: passphrase must be at least %d characters", vaulterrors.ErrValidation, keyderiver.MinPassphraseLength)
	}
	if _, err := os.Stat(dbPath(appDataDir)); err == nil {
		return nil, fmt.Errorf("%w: a vault already exists at %s", vaulterrors.ErrValidation, appDataDir)
	}
	if err := os.MkdirAll(appDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create app data dir: %w", err)
	}

	lock, err := acquireSingleInstanceLock(appDataDir)
	if err != nil {
		return nil, err
	}

	salt, err := keyderiver.GenerateSalt()
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	key, err := keyderiver.DeriveKey(passphrase, salt)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	defer key.Destroy()

	if err := writeSalt(saltPath(appDataDir), salt[:]); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("write salt file: %w", err)
	}

	db, err := openSQLCipher(dbPath(appDataDir), key)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("%w: %v", vaulterrors.ErrDatabase, err)
	}

	return &Store{db: db, path: dbPath(appDataDir), lock: lock}, nil
}

// OpenEncrypted unlocks the existing store at appDataDir with passphrase.
// An incorrect passphrase returns vaulterrors.ErrIncorrectPassphrase; a
// missing or unreadable salt file returns vaulterrors.ErrPassphraseError and
// a malformed one vaulterrors.ErrCorrupted.
func OpenEncrypted(appDataDir string, passphrase string) (*Store, error) {
	salt, err := readSalt(appDataDir)
	if err != nil {
		return nil, err
	}
	key, err := keyderiver.DeriveKeySlice(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()
	return OpenWithKey(appDataDir, key)
}

// OpenWithKey unlocks the existing store at appDataDir with an
// already-derived key, bypassing passphrase derivation. Used by the
// recovery-key unlock path, where the caller has obtained the DbKey by
// unwrapping it with a recovery secret rather than deriving it fresh.
func OpenWithKey(appDataDir string, key *secureenv.Key) (*Store, error) {
	if _, err := os.Stat(dbPath(appDataDir)); err != nil {
		return nil, fmt.Errorf("%w: no vault at %s", vaulterrors.ErrValidation, appDataDir)
	}

	lock, err := acquireSingleInstanceLock(appDataDir)
	if err != nil {
		return nil, err
	}

	db, err := openSQLCipher(dbPath(appDataDir), key)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("%w: %v", vaulterrors.ErrDatabase, err)
	}

	return &Store{db: db, path: dbPath(appDataDir), lock: lock}, nil
}

// ReadSaltFile returns the raw 16-byte Argon2id salt stored alongside
// appDataDir's encrypted database. Exported for the recovery-key
// generation path, which must re-derive the current DbKey from a
// caller-supplied passphrase outside of a live Store.
func ReadSaltFile(appDataDir string) ([]byte, error) {
	return readSalt(appDataDir)
}

// Rekey changes the passphrase protecting s in place: derive a new key and
// salt, PRAGMA rekey the live connection, verify the new key actually
// works, then atomically swap the salt file. If verification fails the old
// salt file is left untouched and the database itself is still readable
// under the new key only — callers must treat a Rekey error as fatal to the
// current session and advise re-opening the store.
func (s *Store) Rekey(newPassphrase string, appDataDir string) (*secureenv.Key, error) {
	if len(newPassphrase) < keyderiver.MinPassphraseLength {
		return nil, fmt.Errorf("%w: passphrase must be at least %d characters", vaulterrors.ErrValidation, keyderiver.MinPassphraseLength)
	}

	s.Lock()
	defer s.Unlock()

	newSalt, err := keyderiver.GenerateSalt()
	if err != nil {
		return nil, err
	}
	newKey, err := keyderiver.DeriveKey(newPassphrase, newSalt)
	if err != nil {
		return nil, err
	}

	tmpSaltPath := saltPath(appDataDir) + ".tmp"
	if err := writeSalt(tmpSaltPath, newSalt[:]); err != nil {
		newKey.Destroy()
		return nil, fmt.Errorf("write temp salt file: %w", err)
	}

	hexKey := newKey.Hex()
	_, rekeyErr := s.db.Exec(fmt.Sprintf(`PRAGMA rekey = "x'%s'"`, hexKey.Bytes()))
	hexKey.Destroy()
	if rekeyErr != nil {
		os.Remove(tmpSaltPath)
		newKey.Destroy()
		return nil, fmt.Errorf("%w: %v", vaulterrors.ErrDatabase, rekeyErr)
	}

	if _, err := s.db.Exec(`SELECT count(*) FROM sqlite_master`); err != nil {
		os.Remove(tmpSaltPath)
		newKey.Destroy()
		return nil, fmt.Errorf("%w: rekey verification query failed: %v", vaulterrors.ErrDatabase, err)
	}

	if err := os.Rename(tmpSaltPath, saltPath(appDataDir)); err != nil {
		newKey.Destroy()
		return nil, fmt.Errorf("swap salt file: %w", err)
	}

	return newKey, nil
}

// AppStore is a lazy-init wrapper around a Store for the common "the UI
// layer may ask for the store before it has been unlocked" case: every
// accessor before Set has been called returns a "passphrase required"
// error rather than a nil-pointer panic.
type AppStore struct {
	mu    sync.RWMutex
	store *Store
}

// IsReady reports whether Set has been called.
func (a *AppStore) IsReady() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store != nil
}

// Set installs the unlocked store. Safe to call again after Close+re-open
// (e.g. after Rekey or Migrate).
func (a *AppStore) Set(s *Store) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store = s
}

// Get returns the installed store, or an error with the exact text
// "passphrase required" if the vault has not been unlocked yet.
func (a *AppStore) Get() (*Store, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.store == nil {
		return nil, errors.New("passphrase required")
	}
	return a.store, nil
}

// Clear tears down the installed store, if any, releasing its file lock.
func (a *AppStore) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// waitForWALCheckpoint blocks until a full WAL checkpoint completes or the
// deadline passes, used before snapshotting the file for export.
func waitForWALCheckpoint(db *sql.DB, deadline time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("wal checkpoint: %w", err)
		}
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("wal checkpoint timed out after %s", deadline)
	}
}

// Checkpoint runs a full WAL checkpoint with a bounded deadline under the
// store's mutex. The exporter does not call it: it checkpoints on its own
// while already holding the mutex.
func (s *Store) Checkpoint(deadline time.Duration) error {
	s.Lock()
	defer s.Unlock()
	return waitForWALCheckpoint(s.db, deadline)
}

// OpenForKey opens an arbitrary SQLCipher file under key, without running
// migrations. Used by the importer to unlock a staged archive payload for
// a quick_check probe before it is ever attached to the live store.
func OpenForKey(path string, key *secureenv.Key) (*sql.DB, error) {
	return openSQLCipher(path, key)
}

// QuickCheck runs SQLite's fast integrity probe against db and returns an
// error unless the single result row reads "ok".
func QuickCheck(db *sql.DB) error {
	var result string
	if err := db.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return fmt.Errorf("%w: quick_check query failed: %v", vaulterrors.ErrCorrupted, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: quick_check reported %q", vaulterrors.ErrCorrupted, result)
	}
	return nil
}

// SchemaVersionOfSchema reads the highest applied migration version from
// the schema_history table reachable under the given SQL schema prefix
// (e.g. "" for the main schema, "archive_db." for an attached database).
func SchemaVersionOfSchema(db *sql.DB, schemaPrefix string) (int, error) {
	var version int
	q := fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %sschema_history`, schemaPrefix)
	if err := db.QueryRow(q).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
