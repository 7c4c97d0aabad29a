// Package crypto provides authenticated encryption for credential
// tokens at rest. The wrapping key is process-scoped, loaded from
// configuration at startup, and never persisted alongside the
// ciphertext it protects.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// nonceSize is 96 bits, the size AES-GCM is defined and optimized
	// for.
	nonceSize = 12
	// keySize is 256 bits.
	keySize = 32
)

// ErrInvalidKey indicates the configured encryption key is not a
// 256-bit value.
var ErrInvalidKey = errors.New("crypto: encryption key must be 256 bits")

// ErrCiphertextTooShort indicates a sealed value is too short to
// contain a nonce and authentication tag.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// Sealer encrypts and decrypts credential tokens with AES-256-GCM. A
// Sealer is safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a hex-encoded 256-bit key, as read
// from ENCRYPTION_KEY_HEX.
func NewSealer(keyHex string) (*Sealer, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag. additionalData
// is authenticated but not encrypted (e.g. the credential id, binding
// the ciphertext to its row).
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, additionalData)
	return sealed, nil
}

// Open decrypts a value produced by Seal. A tampered ciphertext, tag,
// or additionalData causes decryption to fail cleanly with no partial
// plaintext returned.
func (s *Sealer) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plaintext, nil
}
