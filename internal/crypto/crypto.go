// Package crypto supplies the key-resolution and attribute-decryption
// collaborator used by the remote node tree. Undecryptable input is a
// normal outcome here, not an error: callers keep degraded nodes in the
// tree, so every operation reports a status instead of failing.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var errBadKey = errors.New("attribute key must be 32 bytes")

// KeyLen is the length of a cooked (directly usable) node key.
const KeyLen = 32

const (
	keyIDLen = 8
	nonceLen = 24
)

// KeyStatus is the tri-state outcome of node-key resolution.
type KeyStatus int

const (
	// KeyResolved means the key is cooked and usable.
	KeyResolved KeyStatus = iota
	// KeyForeign means the key is wrapped for a different identity; the
	// node stays in the tree but its attributes cannot be read.
	KeyForeign
	// KeyFailed means the key should have been ours but did not unwrap.
	KeyFailed
)

// Cipher resolves node keys and decrypts attribute buffers.
type Cipher interface {
	// ResolveKey turns a raw or wrapped node key into a cooked key.
	ResolveKey(nodekey []byte) ([]byte, KeyStatus)

	// DecryptAttr decrypts an attribute buffer with a cooked key.
	// ok is false for truncated or unauthentic input.
	DecryptAttr(key, buf []byte) (plain []byte, ok bool)
}

// Secretbox implements Cipher with NaCl secretbox. Wrapped node keys carry
// the wrapping identity's id so foreign keys are distinguishable from
// corrupt ones.
//
// Wrapped key layout: keyID(8) | nonce(24) | box(sealed 32-byte key).
// Attribute layout:   nonce(24) | box(sealed plaintext).
type Secretbox struct {
	id     uint64
	master [KeyLen]byte
}

// NewSecretbox creates a cipher for the given identity and master key.
func NewSecretbox(id uint64, master [KeyLen]byte) *Secretbox {
	return &Secretbox{id: id, master: master}
}

// ResolveKey implements Cipher.
func (s *Secretbox) ResolveKey(nodekey []byte) ([]byte, KeyStatus) {
	if len(nodekey) == KeyLen {
		// already cooked
		return nodekey, KeyResolved
	}
	if len(nodekey) < keyIDLen+nonceLen+secretbox.Overhead {
		return nil, KeyFailed
	}
	if binary.BigEndian.Uint64(nodekey[:keyIDLen]) != s.id {
		return nil, KeyForeign
	}
	var nonce [nonceLen]byte
	copy(nonce[:], nodekey[keyIDLen:keyIDLen+nonceLen])
	key, ok := secretbox.Open(nil, nodekey[keyIDLen+nonceLen:], &nonce, &s.master)
	if !ok || len(key) != KeyLen {
		return nil, KeyFailed
	}
	return key, KeyResolved
}

// DecryptAttr implements Cipher.
func (s *Secretbox) DecryptAttr(key, buf []byte) ([]byte, bool) {
	if len(key) != KeyLen || len(buf) < nonceLen+secretbox.Overhead {
		return nil, false
	}
	var k [KeyLen]byte
	copy(k[:], key)
	var nonce [nonceLen]byte
	copy(nonce[:], buf[:nonceLen])
	return secretbox.Open(nil, buf[nonceLen:], &nonce, &k)
}

// WrapKey wraps a cooked node key under this identity's master key.
func (s *Secretbox) WrapKey(key []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, keyIDLen, keyIDLen+nonceLen+len(key)+secretbox.Overhead)
	binary.BigEndian.PutUint64(out, s.id)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, key, &nonce, &s.master), nil
}

// EncryptAttr seals an attribute buffer with a cooked key.
func (s *Secretbox) EncryptAttr(key, plain []byte) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, errBadKey
	}
	var k [KeyLen]byte
	copy(k[:], key)
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &k), nil
}

// NewKey generates a fresh cooked node key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
