// Package crypto encrypts relay secrets at rest.
//
// Secrets are sealed with AES-256-GCM using a fresh random nonce per
// secret. The stored form is hex(nonce) + ":" + hex(ciphertext), so the
// nonce always travels with its ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var key []byte

// ErrKeyNotInitialized is returned when Encrypt or Decrypt is called
// before InitializeKey.
var ErrKeyNotInitialized = errors.New("encryption key not initialized")

// InitializeKey derives the AES-256 key from the configured secret.
func InitializeKey(secret string) error {
	if secret == "" {
		return errors.New("encryption secret is empty")
	}
	sum := sha256.Sum256([]byte(secret))
	key = sum[:]
	return nil
}

// Encrypt seals plaintext and returns the hex-encoded nonce:ciphertext pair.
func Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(encrypted string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", errors.New("malformed ciphertext")
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != gcm.NonceSize() {
		return "", errors.New("malformed nonce")
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("malformed ciphertext")
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM() (cipher.AEAD, error) {
	if key == nil {
		return nil, ErrKeyNotInitialized
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
