// Package crypto provides the cipher service for keyfold.
//
// This package implements Argon2id key derivation and AES-256-GCM
// authenticated encryption of short secrets. Every encrypted value is a
// single opaque base64 string that encodes the nonce, ciphertext, and
// authentication tag together, so callers can store it like any other
// text column.
//
// # Security Features
//
//   - Argon2id key derivation (64MB memory, 3 iterations, 4 threads)
//   - AES-256-GCM authenticated encryption
//   - Cryptographically secure random nonce per encryption call
//   - Secure memory wiping for sensitive data
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations. The cost keeps an
// interactive unlock well under half a second on current hardware while
// remaining expensive for offline guessing.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of derived keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of account salts in bytes (128 bits).
	SaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	// Callers see this for a wrong key and for corrupted ciphertext alike.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextMalformed indicates the blob is not valid base64 or is
	// shorter than a nonce plus a GCM tag.
	ErrCiphertextMalformed = errors.New("crypto: malformed cipher blob")
)

// DeriveKey derives a 256-bit key from a password using Argon2id.
//
// Identical (password, salt) inputs always yield bit-identical keys.
// The salt should be SaltLength bytes of cryptographically secure random
// data; use NewSalt.
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
}

// NewSalt generates a fresh SaltLength-byte random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Verifier returns the verification hash stored on an account record.
// It is a SHA-256 digest of the derived key, never of the password, so a
// stolen store still costs the full Argon2id work per guess.
func Verifier(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:]
}

// EncryptString encrypts plaintext with AES-256-GCM under key and returns
// one opaque blob: base64(nonce || ciphertext || tag). A fresh random
// nonce is drawn for every call, so encrypting the same plaintext twice
// yields different blobs.
func EncryptString(key []byte, plaintext string) (string, error) {
	if len(key) != KeyLength {
		return "", ErrInvalidKeyLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Seal appends the ciphertext and tag after the nonce in one allocation.
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. It verifies the authentication
// tag before returning anything; on a wrong key or corrupted blob it
// returns ErrDecryptionFailed and never partial plaintext.
func DecryptString(key []byte, blob string) (string, error) {
	if len(key) != KeyLength {
		return "", ErrInvalidKeyLength
	}

	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrCiphertextMalformed
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	if len(sealed) < NonceLength+gcm.Overhead() {
		return "", ErrCiphertextMalformed
	}

	nonce := sealed[:NonceLength]
	ciphertext := sealed[NonceLength:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
