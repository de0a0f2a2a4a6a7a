// Package fingerprint defines the content-identity tuple used to recognize
// identical file content independent of its location or name.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// HashSize is the length of the content hash in bytes.
const HashSize = sha256.Size

// Fingerprint identifies file content by size, modification time and content
// hash. The zero value is invalid (no fingerprint resolved yet).
type Fingerprint struct {
	Size  int64
	MTime int64 // Unix seconds
	Hash  [HashSize]byte
	Valid bool
}

// Compare defines the total order used by the fingerprint index:
// size first, then mtime, then hash bytes.
func Compare(a, b Fingerprint) int {
	if a.Size != b.Size {
		if a.Size < b.Size {
			return -1
		}
		return 1
	}
	if a.MTime != b.MTime {
		if a.MTime < b.MTime {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Hash[:], b.Hash[:])
}

// Equal reports whether two fingerprints identify the same content.
func Equal(a, b Fingerprint) bool {
	return a.Valid && b.Valid && Compare(a, b) == 0
}

// Of computes a fingerprint by hashing r. Size and mtime come from the
// caller (typically a stat of the file being read).
func Of(r io.Reader, size, mtime int64) (Fingerprint, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("hash content: %w", err)
	}
	if n != size {
		return Fingerprint{}, fmt.Errorf("content is %d bytes, expected %d", n, size)
	}
	fp := Fingerprint{Size: size, MTime: mtime, Valid: true}
	copy(fp.Hash[:], h.Sum(nil))
	return fp, nil
}

// String encodes the fingerprint as "size:mtime:hash" for storage in the
// node attribute map. Invalid fingerprints encode as the empty string.
func (fp Fingerprint) String() string {
	if !fp.Valid {
		return ""
	}
	return strconv.FormatInt(fp.Size, 10) + ":" +
		strconv.FormatInt(fp.MTime, 10) + ":" +
		base64.RawURLEncoding.EncodeToString(fp.Hash[:])
}

// Parse decodes a fingerprint produced by String. A malformed or empty
// input yields an invalid fingerprint, not an error: nodes with bad
// fingerprint attributes stay representable.
func Parse(s string) Fingerprint {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Fingerprint{}
	}
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || size < 0 {
		return Fingerprint{}
	}
	mtime, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Fingerprint{}
	}
	hash, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(hash) != HashSize {
		return Fingerprint{}
	}
	fp := Fingerprint{Size: size, MTime: mtime, Valid: true}
	copy(fp.Hash[:], hash)
	return fp
}
