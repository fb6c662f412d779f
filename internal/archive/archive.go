// Package archive implements the URB1 portable container format: a
// single-file, self-describing backup holding an untouched copy of the
// encrypted database file plus the salt needed to derive its key and a
// small plaintext metadata header for display purposes. The codec performs
// no cryptography of its own — the database bytes it carries are already
// opaque SQLCipher ciphertext.
package archive

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

const (
	magic = "URB1"

	// SaltLength is the only salt length write_archive will ever produce;
	// read_archive rejects any other value.
	SaltLength = 16

	// MaxMetadataLength bounds the streaming-preview path against a
	// hostile metadata_length field.
	MaxMetadataLength = 1 << 20 // 1 MiB

	// MaxArchiveSize is the preview-path ceiling on total archive size.
	MaxArchiveSize = 500 << 20 // 500 MiB

	// MinPlausibleDbSize flags an archive whose database payload is
	// implausibly small to have come from a real store.
	MinPlausibleDbSize = 1024
)

// Metadata is the plaintext header carried in every archive. Field names
// are the stable camelCase wire names (SPEC_FULL.md §4.4.1); it is not
// authenticated by the format and must be treated as untrusted display
// data, never as a security boundary.
type Metadata struct {
	FormatVersion     int     `json:"formatVersion"`
	ExportDate        string  `json:"exportDate"`
	AppVersion        string  `json:"appVersion"`
	PassphraseHint    *string `json:"passphraseHint"`
	ProposalCount     int     `json:"proposalCount"`
	RevisionCount     int     `json:"revisionCount"`
	JobPostCount      int     `json:"jobPostCount"`
	SettingsCount     int     `json:"settingsCount"`
	VoiceProfileCount int     `json:"voiceProfileCount"`
	DbSizeBytes       uint64  `json:"dbSizeBytes"`
}

// WriteArchive serializes metadata, salt, and dbBytes to path in the exact
// layout of SPEC_FULL.md §4.4.1, fsyncing before close so a crash
// immediately after return cannot leave a truncated file that looks valid.
func WriteArchive(path string, metadata Metadata, salt []byte, dbBytes []byte) error {
	if len(salt) != SaltLength {
		return fmt.Errorf("%w: salt must be %d bytes, got %d", vaulterrors.ErrInvalidFormat, SaltLength, len(salt))
	}
	if len(dbBytes) == 0 {
		return fmt.Errorf("%w: refusing to write an archive with an empty database", vaulterrors.ErrInvalidFormat)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := writeU32(w, uint32(len(metaJSON))); err != nil {
		return fmt.Errorf("write metadata_length: %w", err)
	}
	if _, err := w.Write(metaJSON); err != nil {
		return fmt.Errorf("write metadata_json: %w", err)
	}
	if err := writeU32(w, uint32(len(salt))); err != nil {
		return fmt.Errorf("write salt_length: %w", err)
	}
	if _, err := w.Write(salt); err != nil {
		return fmt.Errorf("write salt: %w", err)
	}
	if _, err := w.Write(dbBytes); err != nil {
		return fmt.Errorf("write encrypted_database_file: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush archive file: %w", err)
	}
	return f.Sync()
}

// ReadArchive fully parses path and returns the metadata, salt, and raw
// encrypted database bytes. It rejects any header inconsistency: bad
// magic, a length field that overflows the file, a salt length other than
// SaltLength, or an empty database portion.
func ReadArchive(path string) (Metadata, []byte, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, nil, nil, fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	if err := checkMagic(r); err != nil {
		return Metadata{}, nil, nil, err
	}

	metaLen, err := readU32(r)
	if err != nil {
		return Metadata{}, nil, nil, fmt.Errorf("%w: read metadata_length: %v", vaulterrors.ErrInvalidFormat, err)
	}
	metaJSON := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaJSON); err != nil {
		return Metadata{}, nil, nil, fmt.Errorf("%w: metadata_length overflows file: %v", vaulterrors.ErrInvalidFormat, err)
	}
	var metadata Metadata
	if err := json.Unmarshal(metaJSON, &metadata); err != nil {
		return Metadata{}, nil, nil, fmt.Errorf("%w: malformed metadata json: %v", vaulterrors.ErrInvalidFormat, err)
	}

	saltLen, err := readU32(r)
	if err != nil {
		return Metadata{}, nil, nil, fmt.Errorf("%w: read salt_length: %v", vaulterrors.ErrInvalidFormat, err)
	}
	if saltLen != SaltLength {
		return Metadata{}, nil, nil, fmt.Errorf("%w: salt_length must be %d, got %d", vaulterrors.ErrInvalidFormat, SaltLength, saltLen)
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(r, salt); err != nil {
		return Metadata{}, nil, nil, fmt.Errorf("%w: salt_length overflows file: %v", vaulterrors.ErrInvalidFormat, err)
	}

	dbBytes, err := io.ReadAll(r)
	if err != nil {
		return Metadata{}, nil, nil, fmt.Errorf("read encrypted_database_file: %w", err)
	}
	if len(dbBytes) == 0 {
		return Metadata{}, nil, nil, fmt.Errorf("%w: archive has an empty database portion", vaulterrors.ErrInvalidFormat)
	}

	return metadata, salt, dbBytes, nil
}

// ReadMetadataOnly streams just the header, never touching the (possibly
// huge) encrypted payload. It caps metadata_length at MaxMetadataLength to
// guard against a hostile file claiming a multi-gigabyte header.
func ReadMetadataOnly(path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("stat archive file: %w", err)
	}
	if info.Size() > MaxArchiveSize {
		return Metadata{}, fmt.Errorf("%w: archive is %d bytes, limit is %d", vaulterrors.ErrArchiveTooLarge, info.Size(), int64(MaxArchiveSize))
	}

	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := checkMagic(r); err != nil {
		return Metadata{}, err
	}

	metaLen, err := readU32(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: read metadata_length: %v", vaulterrors.ErrInvalidFormat, err)
	}
	if metaLen > MaxMetadataLength {
		return Metadata{}, fmt.Errorf("%w: metadata_length %d exceeds %d byte cap", vaulterrors.ErrInvalidFormat, metaLen, MaxMetadataLength)
	}

	metaJSON := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaJSON); err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata_length overflows file: %v", vaulterrors.ErrInvalidFormat, err)
	}
	var metadata Metadata
	if err := json.Unmarshal(metaJSON, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("%w: malformed metadata json: %v", vaulterrors.ErrInvalidFormat, err)
	}
	return metadata, nil
}

func checkMagic(r *bufio.Reader) error {
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("%w: file too short to contain a magic header: %v", vaulterrors.ErrInvalidFormat, err)
	}
	if string(got) != magic {
		return fmt.Errorf("%w: bad magic %q, expected %q", vaulterrors.ErrInvalidFormat, got, magic)
	}
	return nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
