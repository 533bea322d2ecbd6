// Package secret seals account credentials at rest.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "v1:"

// ErrMalformed is returned when a sealed value cannot be decoded
var ErrMalformed = errors.New("malformed sealed value")

// Sealer encrypts and decrypts secrets for storage
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// AEAD seals with XChaCha20-Poly1305
type AEAD struct {
	key []byte
}

// NewAEAD derives a 256-bit key from passphrase
func NewAEAD(passphrase string) (*AEAD, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return &AEAD{key: sum[:]}, nil
}

// Seal encrypts plaintext into a printable token
func (a *AEAD) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a token produced by Seal
func (a *AEAD) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", ErrMalformed
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrMalformed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plain), nil
}

// Plain stores secrets unchanged. Used when no key is configured.
type Plain struct{}

func (Plain) Seal(plaintext string) (string, error) { return plaintext, nil }

func (Plain) Open(sealed string) (string, error) { return sealed, nil }
