package settings

import (
	"strings"
	"testing"
)

// TestEncryptDecryptRoundTrip verifies credentials survive the round trip
// and are not stored in the clear.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	c, err := NewCipherFromBase64Key(key)
	if err != nil {
		t.Fatalf("NewCipherFromBase64Key() failed: %v", err)
	}

	secret := "plex-token-abc123"
	encrypted, err := c.EncryptString(secret)
	if err != nil {
		t.Fatalf("EncryptString() failed: %v", err)
	}
	if encrypted == secret || strings.Contains(encrypted, secret) {
		t.Error("ciphertext contains the plaintext")
	}

	decrypted, err := c.DecryptString(encrypted)
	if err != nil {
		t.Fatalf("DecryptString() failed: %v", err)
	}
	if decrypted != secret {
		t.Errorf("round trip = %q, want %q", decrypted, secret)
	}
}

// TestEncryptEmptyStaysEmpty verifies unset credentials round-trip as unset.
func TestEncryptEmptyStaysEmpty(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipherFromBase64Key(key)

	encrypted, err := c.EncryptString("")
	if err != nil || encrypted != "" {
		t.Errorf("EncryptString(\"\") = %q, %v, want empty", encrypted, err)
	}
	decrypted, err := c.DecryptString("")
	if err != nil || decrypted != "" {
		t.Errorf("DecryptString(\"\") = %q, %v, want empty", decrypted, err)
	}
}

// TestEncryptNonDeterministic verifies each encryption uses a fresh nonce.
func TestEncryptNonDeterministic(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipherFromBase64Key(key)

	first, _ := c.EncryptString("secret")
	second, _ := c.EncryptString("secret")
	if first == second {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

// TestNewCipherRejectsBadKeys verifies key validation.
func TestNewCipherRejectsBadKeys(t *testing.T) {
	testCases := []struct {
		name string
		key  string
	}{
		{"Empty key", ""},
		{"Not base64", "not base64!!"},
		{"Wrong length", "c2hvcnQ="}, // "short"
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCipherFromBase64Key(tc.key); err == nil {
				t.Errorf("NewCipherFromBase64Key(%q) should fail", tc.key)
			}
		})
	}
}

// TestDecryptRejectsTampering verifies garbage and truncated ciphertexts fail.
func TestDecryptRejectsTampering(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewCipherFromBase64Key(key)

	if _, err := c.DecryptString("AAAA"); err == nil {
		t.Error("DecryptString of a too-short ciphertext should fail")
	}

	encrypted, _ := c.EncryptString("secret")
	tampered := "B" + encrypted[1:]
	if tampered == encrypted {
		tampered = "A" + encrypted[1:]
	}
	if _, err := c.DecryptString(tampered); err == nil {
		t.Error("DecryptString of a tampered ciphertext should fail")
	}

	// A different key cannot decrypt.
	otherKey, _ := GenerateKey()
	other, _ := NewCipherFromBase64Key(otherKey)
	if _, err := other.DecryptString(encrypted); err == nil {
		t.Error("DecryptString with the wrong key should fail")
	}
}
