package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

// TestDeriveKey tests the Argon2id key derivation function
func TestDeriveKey(t *testing.T) {
	password := []byte("test-password-123")
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}

	// Test key derivation produces correct length
	key := DeriveKey(password, salt)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	// Test same password + salt produces same key (deterministic)
	key2 := DeriveKey(password, salt)
	if !bytes.Equal(key, key2) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	// Test different password produces different key
	differentKey := DeriveKey([]byte("different-password"), salt)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different password should produce different key")
	}

	// Test different salt produces different key
	differentSalt, err := NewSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	differentKey = DeriveKey(password, differentSalt)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different salt should produce different key")
	}
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error: %v", err)
	}
	if len(a) != SaltLength {
		t.Errorf("NewSalt() length = %d, want %d", len(a), SaltLength)
	}
	b, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two salts should not be equal")
	}
}

// TestEncryptDecryptRoundTrip verifies decrypt(encrypt(s)) == s for a
// range of plaintexts, including empty and non-ASCII.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	plaintexts := []string{
		"",
		"a",
		"hunter2",
		"correct horse battery staple",
		"pässwörd-ünïcödé",
		"日本語のパスワード",
		strings.Repeat("x", 4096),
		"with\x00embedded\x00nulls",
	}

	for _, pt := range plaintexts {
		blob, err := EncryptString(key, pt)
		if err != nil {
			t.Fatalf("EncryptString(%q) error: %v", pt, err)
		}

		got, err := DecryptString(key, blob)
		if err != nil {
			t.Fatalf("DecryptString() error for %q: %v", pt, err)
		}
		if got != pt {
			t.Errorf("round trip mismatch: got %q, want %q", got, pt)
		}
	}
}

// TestEncryptStringRandomNonce verifies two encryptions of the same
// plaintext produce distinct blobs.
func TestEncryptStringRandomNonce(t *testing.T) {
	key := testKey(t)

	a, err := EncryptString(key, "same plaintext")
	if err != nil {
		t.Fatalf("EncryptString() error: %v", err)
	}
	b, err := EncryptString(key, "same plaintext")
	if err != nil {
		t.Fatalf("EncryptString() error: %v", err)
	}
	if a == b {
		t.Error("EncryptString() should produce different blobs for the same plaintext")
	}
}

// TestDecryptStringWrongKey verifies a wrong key fails with ErrDecryptionFailed.
func TestDecryptStringWrongKey(t *testing.T) {
	key := testKey(t)
	blob, err := EncryptString(key, "secret value")
	if err != nil {
		t.Fatalf("EncryptString() error: %v", err)
	}

	wrongKey := testKey(t)
	if _, err := DecryptString(wrongKey, blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("DecryptString() with wrong key = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptStringCorrupted(t *testing.T) {
	key := testKey(t)
	blob, err := EncryptString(key, "secret value")
	if err != nil {
		t.Fatalf("EncryptString() error: %v", err)
	}

	// Flip a character in the middle of the base64 payload.
	mid := len(blob) / 2
	flipped := byte('A')
	if blob[mid] == 'A' {
		flipped = 'B'
	}
	corrupted := blob[:mid] + string(flipped) + blob[mid+1:]

	if _, err := DecryptString(key, corrupted); err == nil {
		t.Error("DecryptString() should fail on corrupted blob")
	}
}

func TestDecryptStringMalformed(t *testing.T) {
	key := testKey(t)

	cases := []string{
		"not base64 !!!",
		"",
		"YWJj", // valid base64, far too short
	}
	for _, blob := range cases {
		if _, err := DecryptString(key, blob); !errors.Is(err, ErrCiphertextMalformed) {
			t.Errorf("DecryptString(%q) = %v, want ErrCiphertextMalformed", blob, err)
		}
	}
}

func TestInvalidKeyLength(t *testing.T) {
	short := make([]byte, 16)
	if _, err := EncryptString(short, "x"); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("EncryptString() with short key = %v, want ErrInvalidKeyLength", err)
	}
	if _, err := DecryptString(short, "x"); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("DecryptString() with short key = %v, want ErrInvalidKeyLength", err)
	}
}

func TestVerifier(t *testing.T) {
	key := testKey(t)
	a := Verifier(key)
	b := Verifier(key)
	if !bytes.Equal(a, b) {
		t.Error("Verifier() should be deterministic")
	}
	if bytes.Equal(a, key) {
		t.Error("Verifier() must not echo the key")
	}

	other := testKey(t)
	if bytes.Equal(a, Verifier(other)) {
		t.Error("Verifier() of different keys should differ")
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte("sensitive")
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() left non-zero byte at %d", i)
		}
	}
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}
