// Package crypto seals values at rest with AES-256-GCM. It protects stored
// conversation history when the history backend is shared infrastructure.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var prefix = []byte("aes-gcm:")

// ErrOpen is returned when a sealed value cannot be decrypted.
var ErrOpen = errors.New("decrypt failed: invalid key or corrupted data")

// Sealer encrypts and decrypts values with one key. A nil *Sealer passes
// values through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer for key. An empty key returns a nil Sealer.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, nil
	}
	keyBytes, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns "aes-gcm:" + base64(nonce + ciphertext + tag).
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil || len(plaintext) == 0 {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, len(prefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(out, prefix)
	base64.StdEncoding.Encode(out[len(prefix):], sealed)
	return out, nil
}

// Open reverses Seal. Values without the prefix are returned as-is, so
// history written before a key was configured stays readable.
func (s *Sealer) Open(value []byte) ([]byte, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if s == nil {
		return nil, errors.New("value is encrypted but no key is configured")
	}
	data := make([]byte, base64.StdEncoding.DecodedLen(len(value)-len(prefix)))
	n, err := base64.StdEncoding.Decode(data, value[len(prefix):])
	if err != nil {
		return nil, ErrOpen
	}
	data = data[:n]

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrOpen
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// IsSealed reports whether value carries the "aes-gcm:" prefix.
func IsSealed(value []byte) bool {
	return bytes.HasPrefix(value, prefix)
}

// DeriveKey converts the input string to a 32-byte AES key.
// Accepts: hex-encoded (64 chars), base64-encoded (44 chars), or raw 32 bytes.
func DeriveKey(input string) ([]byte, error) {
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	if len(input) == 32 {
		return []byte(input), nil
	}
	return nil, errors.New("encryption key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}
