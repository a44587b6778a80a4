package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Encrypted credential format: base64(salt || nonce || ciphertext).
const (
	saltSize  = 16
	nonceSize = 12
	scryptN   = 32768 // 2^15
	scryptR   = 8
	scryptP   = 1
	keySize   = 32 // AES-256
)

// passphraseEnv names the environment variable holding the secrets passphrase.
const passphraseEnv = "LLMGATE_SECRET_PASSPHRASE"

//nolint:gochecknoglobals // In-memory passphrase cache, set once per process
var (
	passphrase    string
	passphraseMux sync.RWMutex
)

// SetPassphrase stores the secrets passphrase in memory. The CLI calls this
// after prompting when the environment variable is absent.
func SetPassphrase(p string) {
	passphraseMux.Lock()
	defer passphraseMux.Unlock()
	passphrase = p
}

func getPassphrase() (string, error) {
	passphraseMux.RLock()
	p := passphrase
	passphraseMux.RUnlock()
	if p != "" {
		return p, nil
	}
	if env := os.Getenv(passphraseEnv); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no secrets passphrase: set %s or call config.SetPassphrase", passphraseEnv)
}

func deriveKey(pass string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(pass), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// EncryptSecret encrypts a credential for storage in api_key_encrypted.
func EncryptSecret(plaintext string) (string, error) {
	pass, err := getPassphrase()
	if err != nil {
		return "", err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(pass, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptSecret decrypts an api_key_encrypted value.
func DecryptSecret(encoded string) (string, error) {
	pass, err := getPassphrase()
	if err != nil {
		return "", err
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed encrypted secret: %w", err)
	}
	if len(blob) < saltSize+nonceSize {
		return "", fmt.Errorf("encrypted secret too short")
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	sealed := blob[saltSize+nonceSize:]

	key, err := deriveKey(pass, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}
