package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix      = "rgk_"
	keyRandomBytes = 20 // 20 bytes = 40 hex chars
)

// GenerateKey returns a new plaintext API key and its bcrypt hash, suitable
// for api_key_hashes or admin_key_hashes.
func GenerateKey() (plaintext, hash string, err error) {
	plaintext = keyPrefix + randomHex(keyRandomBytes)
	hash, err = HashKey(plaintext)
	return plaintext, hash, err
}

// HashKey bcrypt-hashes key with the default cost.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(h), nil
}

// fingerprint is the cache key for a presented plaintext key. It never
// leaves the process.
func fingerprint(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
