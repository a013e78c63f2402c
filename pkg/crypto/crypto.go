package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const saltLength = 16

// ErrMalformed is returned by Open when the input is not a sealed value.
var ErrMalformed = errors.New("crypto: malformed sealed value")

// Sealer encrypts small values with AES-GCM under a key derived from a passphrase.
// Sealed output is base64 so it survives text-oriented stores.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the key with Argon2id. The salt is a hash of the passphrase, so the
// derivation is effectively unsalted: the same passphrase always yields the same key and
// values written by an earlier process stay readable without storing a salt. That is only
// suitable for a single local key; do not reuse the passphrase elsewhere.
func NewSealer(passphrase []byte, params Argon2Parameters) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("crypto: passphrase is required")
	}

	sum := sha256.Sum256(passphrase)
	key, err := DeriveKeyArgon2id(passphrase, sum[:saltLength], params)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	data := make([]byte, base64.StdEncoding.DecodedLen(len(sealed)))
	n, err := base64.StdEncoding.Decode(data, sealed)
	if err != nil {
		return nil, ErrMalformed
	}
	data = data[:n]

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize+s.aead.Overhead() {
		return nil, ErrMalformed
	}
	return s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}
