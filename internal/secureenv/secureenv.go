// Package secureenv provides a zeroed ownership envelope for key material.
//
// Every 32-byte DbKey, its hex form, and every PRAGMA string built from it
// must live inside a Key for as long as it is needed and nowhere else.
// The backing bytes are mlock'd where the platform allows it and are always
// zeroed on Destroy, whether or not mlock succeeded.
package secureenv

import (
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the smallest RLIMIT_MEMLOCK budget this package is
// willing to rely on before it refuses secure allocation.
const MinMlockLimitKB = 64

// Key is a zeroed ownership envelope around secret bytes (a DbKey, a
// passphrase, a recovery key). The bytes are only ever readable through
// Bytes() while the Key is alive; Destroy wipes them unconditionally.
type Key struct {
	buf       *memguard.LockedBuffer
	destroyed bool
}

// NewKey copies src into a locked buffer and zeroes src in place. Callers
// must not retain src after calling NewKey.
func NewKey(src []byte) *Key {
	buf := memguard.NewBufferFromBytes(src)
	return &Key{buf: buf}
}

// NewRandomKey allocates a fresh locked buffer of n bytes, uninitialized.
// Callers write into Bytes() themselves (e.g. crypto/rand.Read).
func NewRandomKey(n int) *Key {
	buf := memguard.NewBuffer(n)
	buf.Melt()
	return &Key{buf: buf}
}

// Bytes returns a view of the key's backing storage. It is writable for keys
// from NewRandomKey and read-only for keys from NewKey. The slice is only
// valid until Destroy is called.
func (k *Key) Bytes() []byte {
	if k.destroyed {
		return nil
	}
	return k.buf.Bytes()
}

// Hex returns the lowercase hex encoding of the key, itself wrapped in a new
// Key so the encoded form is zeroed exactly like the raw bytes. Callers must
// Destroy the returned Key as soon as the hex string has been consumed (e.g.
// immediately after building and executing a PRAGMA statement).
func (k *Key) Hex() *Key {
	encoded := make([]byte, hex.EncodedLen(len(k.Bytes())))
	hex.Encode(encoded, k.Bytes())
	return NewKey(encoded)
}

// Destroy zeroes the backing bytes and releases the lock. Safe to call more
// than once.
func (k *Key) Destroy() {
	if k.destroyed {
		return
	}
	k.buf.Destroy()
	k.destroyed = true
}

// Len reports the number of bytes currently held.
func (k *Key) Len() int {
	if k.destroyed {
		return 0
	}
	return k.buf.Size()
}

// CheckMlockAvailable reports whether the process's RLIMIT_MEMLOCK is large
// enough for memguard to lock pages without silently falling back to
// unlocked (but still zeroed) memory. It never fails the caller — it's
// informational, used by the CLI to warn operators on constrained hosts.
func CheckMlockAvailable() (ok bool, limitKB int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		return false, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB = int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// Purge wipes every LockedBuffer memguard has ever allocated in this
// process. Called once at process shutdown.
func Purge() {
	memguard.Purge()
}

// CatchInterrupt arranges for Purge to run automatically on SIGINT/SIGTERM,
// so key material never outlives a killed process.
func CatchInterrupt() {
	memguard.CatchInterrupt()
}

// ErrMlockInsufficient is returned by callers that choose to hard-fail
// rather than silently degrade when the mlock budget is too small.
func ErrMlockInsufficient(limitKB int64) error {
	return fmt.Errorf("mlock limit insufficient: have %d KB, need %d KB", limitKB, MinMlockLimitKB)
}
