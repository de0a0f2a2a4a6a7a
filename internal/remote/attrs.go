package remote

import (
	"encoding/json"
	"strconv"

	"github.com/mirabelle-sync/mirabelle/internal/crypto"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

// Reserved attribute keys consumed by ParseAttr. Everything else stays in
// the attribute map ("n" included: it is the display name).
const (
	attrFingerprint = "fp"
	attrFileAttrs   = "fa"
	attrOwner       = "o"
	attrCTime       = "ct"
)

// ParsedAttrs is the result of parsing a decrypted attribute buffer.
type ParsedAttrs struct {
	Attrs       AttrMap
	Fingerprint fingerprint.Fingerprint
	FileAttrs   string
	Owner       Handle
	CTime       int64
}

// DecryptAttr decrypts a raw attribute buffer with a cooked node key.
// Truncated or unauthentic buffers yield ok == false.
func DecryptAttr(c crypto.Cipher, key, buf []byte) ([]byte, bool) {
	return c.DecryptAttr(key, buf)
}

// ParseAttr parses a decrypted attribute buffer. Must be called after
// DecryptAttr. Malformed input returns a "no attributes" result — an empty
// but usable map — never an error.
func ParseAttr(plain []byte) ParsedAttrs {
	out := ParsedAttrs{Attrs: AttrMap{}}

	var raw map[string]string
	if err := json.Unmarshal(plain, &raw); err != nil {
		return out
	}

	for k, v := range raw {
		switch k {
		case attrFingerprint:
			out.Fingerprint = fingerprint.Parse(v)
		case attrFileAttrs:
			out.FileAttrs = v
		case attrOwner:
			if o, err := strconv.ParseUint(v, 10, 64); err == nil {
				out.Owner = Handle(o)
			}
		case attrCTime:
			if ct, err := strconv.ParseInt(v, 10, 64); err == nil {
				out.CTime = ct
			}
		default:
			out.Attrs[k] = v
		}
	}
	return out
}

// EncodeAttr builds the plaintext attribute buffer for a node, the inverse
// of ParseAttr. Used when staging local changes for remote creation.
func EncodeAttr(attrs AttrMap, fp fingerprint.Fingerprint, fileattrs string, owner Handle, ctime int64) ([]byte, error) {
	raw := make(map[string]string, len(attrs)+4)
	for k, v := range attrs {
		raw[k] = v
	}
	if fp.Valid {
		raw[attrFingerprint] = fp.String()
	}
	if fileattrs != "" {
		raw[attrFileAttrs] = fileattrs
	}
	if owner != Undef {
		raw[attrOwner] = strconv.FormatUint(uint64(owner), 10)
	}
	if ctime != 0 {
		raw[attrCTime] = strconv.FormatInt(ctime, 10)
	}
	return json.Marshal(raw)
}
