package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	require.NoError(t, InitializeKey("test-secret"))

	ciphertext, err := Encrypt("smtp-password-123")
	require.NoError(t, err)
	assert.NotEqual(t, "smtp-password-123", ciphertext)
	assert.Contains(t, ciphertext, ":")

	plaintext, err := Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "smtp-password-123", plaintext)
}

func TestEncrypt_DistinctCiphertexts(t *testing.T) {
	require.NoError(t, InitializeKey("test-secret"))

	first, err := Encrypt("same input")
	require.NoError(t, err)
	second, err := Encrypt("same input")
	require.NoError(t, err)

	// A fresh nonce per call means identical plaintexts never produce
	// identical ciphertexts.
	assert.NotEqual(t, first, second)
}

func TestDecrypt_RejectsTampering(t *testing.T) {
	require.NoError(t, InitializeKey("test-secret"))

	ciphertext, err := Encrypt("payload")
	require.NoError(t, err)

	parts := strings.SplitN(ciphertext, ":", 2)
	require.Len(t, parts, 2)
	flipped := "00"
	if strings.HasPrefix(parts[1], "00") {
		flipped = "ff"
	}
	tampered := parts[0] + ":" + flipped + parts[1][2:]

	_, err = Decrypt(tampered)
	assert.Error(t, err)
}

func TestDecrypt_RejectsMalformedInput(t *testing.T) {
	require.NoError(t, InitializeKey("test-secret"))

	_, err := Decrypt("not-hex-or-colon")
	assert.Error(t, err)
}
