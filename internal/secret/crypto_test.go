package secret

import (
	"strings"
	"testing"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

func TestCryptoRoundTrip(t *testing.T) {
	c, err := NewCrypto(testMasterKey)
	if err != nil {
		t.Fatalf("NewCrypto returned error: %v", err)
	}

	encrypted, err := c.Encrypt("binance-api-key-value")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if !strings.HasPrefix(encrypted, "v1:") {
		t.Fatalf("expected v1: prefix, got %s", encrypted)
	}

	plaintext, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if plaintext != "binance-api-key-value" {
		t.Fatalf("round trip mismatch: %s", plaintext)
	}
}

func TestCryptoRejectsShortMasterKey(t *testing.T) {
	if _, err := NewCrypto("too-short"); err == nil {
		t.Fatal("expected error for short master key")
	}
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	c, err := NewCrypto(testMasterKey)
	if err != nil {
		t.Fatalf("NewCrypto returned error: %v", err)
	}

	if _, err := c.Decrypt("v2:abcdef"); err == nil {
		t.Fatal("expected error for unknown envelope version")
	}
	if _, err := c.Decrypt("not-an-envelope"); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewCrypto(testMasterKey)
	if err != nil {
		t.Fatalf("NewCrypto returned error: %v", err)
	}

	encrypted, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	tampered := encrypted[:len(encrypted)-2] + "AA"
	if tampered == encrypted {
		tampered = encrypted[:len(encrypted)-2] + "BB"
	}
	if _, err := c.Decrypt(tampered); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}
