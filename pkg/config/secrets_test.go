package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRoundTrip(t *testing.T) {
	SetPassphrase("correct horse battery staple")
	t.Cleanup(func() { SetPassphrase("") })

	encrypted, err := EncryptSecret("sk-test-1234567890")
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "sk-test", "ciphertext must not leak the plaintext")

	decrypted, err := DecryptSecret(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-1234567890", decrypted)

	// A fresh salt and nonce make every encryption distinct.
	again, err := EncryptSecret("sk-test-1234567890")
	require.NoError(t, err)
	assert.NotEqual(t, encrypted, again)
}

func TestSecretWrongPassphraseFails(t *testing.T) {
	SetPassphrase("first passphrase")
	t.Cleanup(func() { SetPassphrase("") })

	encrypted, err := EncryptSecret("sk-test")
	require.NoError(t, err)

	SetPassphrase("second passphrase")
	_, err = DecryptSecret(encrypted)
	assert.Error(t, err)
}

func TestSecretMalformedInput(t *testing.T) {
	SetPassphrase("p")
	t.Cleanup(func() { SetPassphrase("") })

	_, err := DecryptSecret("not base64 !!!")
	assert.Error(t, err)

	_, err = DecryptSecret("c2hvcnQ=") // valid base64, too short for salt+nonce
	assert.Error(t, err)
}

func TestSecretRequiresPassphrase(t *testing.T) {
	SetPassphrase("")
	t.Setenv("LLMGATE_SECRET_PASSPHRASE", "")

	_, err := EncryptSecret("sk-test")
	assert.Error(t, err)
}

func TestSecretPassphraseFromEnvironment(t *testing.T) {
	SetPassphrase("")
	t.Setenv("LLMGATE_SECRET_PASSPHRASE", "env passphrase")

	encrypted, err := EncryptSecret("sk-env-test")
	require.NoError(t, err)

	decrypted, err := DecryptSecret(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-env-test", decrypted)
}
