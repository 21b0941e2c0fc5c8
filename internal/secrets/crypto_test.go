package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ciphertext, err := Encrypt(testKey, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "hunter2")

	plain, err := Decrypt(testKey, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	a, err := Encrypt(testKey, "same input")
	require.NoError(t, err)
	b, err := Encrypt(testKey, "same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	ciphertext, err := Encrypt(testKey, "hunter2")
	require.NoError(t, err)

	_, err = Decrypt(strings.Repeat("x", 32), ciphertext)
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	_, err := Decrypt(testKey, "QQ==")
	assert.ErrorContains(t, err, "cipher too short")

	_, err = Decrypt(testKey, "*not base64*")
	assert.Error(t, err)
}

func TestShortKeyRejected(t *testing.T) {
	_, err := Encrypt("short", "data")
	assert.Error(t, err)
	_, err = Decrypt("short", "data")
	assert.Error(t, err)
}
