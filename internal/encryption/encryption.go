// Package encryption seals transcript text at rest.
//
// Sealed values are "enc:v1:" followed by base64(nonce || ciphertext) using
// XChaCha20-Poly1305. Values without the prefix are treated as legacy
// plaintext and returned unchanged by Open.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Prefix marks a sealed value.
const Prefix = "enc:v1:"

var (
	ErrInvalidKey         = errors.New("encryption key must be 32 bytes (64 hex chars or base64)")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Sealer encrypts and decrypts individual string values.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// AEADSealer is a Sealer backed by XChaCha20-Poly1305.
type AEADSealer struct {
	aead cipher.AEAD
}

// NewAEADSealer returns a sealer for a 32-byte key.
func NewAEADSealer(key []byte) (*AEADSealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &AEADSealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *AEADSealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Unprefixed input is returned as is.
func (s *AEADSealer) Open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, Prefix)
	if !ok {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plaintext), nil
}

// NopSealer stores values in plaintext.
type NopSealer struct{}

func (NopSealer) Seal(plaintext string) (string, error) { return plaintext, nil }
func (NopSealer) Open(value string) (string, error)     { return value, nil }

// ParseKey decodes a 32-byte key given as 64 hex characters or as standard
// base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == hex.EncodedLen(chacha20poly1305.KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// FromKeyString returns an AEADSealer for a non-empty key string and a
// NopSealer for an empty one.
func FromKeyString(s string) (Sealer, error) {
	if strings.TrimSpace(s) == "" {
		return NopSealer{}, nil
	}
	key, err := ParseKey(s)
	if err != nil {
		return nil, err
	}
	return NewAEADSealer(key)
}
