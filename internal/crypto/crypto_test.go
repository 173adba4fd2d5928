package crypto

import (
	"encoding/json"
	"strings"
	"testing"
)

func testKey() []byte {
	key, _ := DeriveKey("test-encryption-key-for-unit-tests")
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	original := "sk-ant-REDACTED"

	encrypted, err := Encrypt(original, key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if !IsEncrypted(encrypted) {
		t.Fatalf("expected encrypted value to start with %q prefix, got %q", "enc:", encrypted)
	}

	if encrypted == original {
		t.Fatal("encrypted value should differ from plaintext")
	}

	decrypted, err := Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if decrypted != original {
		t.Fatalf("round-trip failed: got %q, want %q", decrypted, original)
	}
}

func TestEncryptEmptyString(t *testing.T) {
	key := testKey()

	encrypted, err := Encrypt("", key)
	if err != nil {
		t.Fatalf("Encrypt empty: %v", err)
	}

	if encrypted != "" {
		t.Fatalf("encrypting empty string should return empty, got %q", encrypted)
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	key := testKey()

	// A value without the "enc:" prefix should be returned as-is.
	plain := "sk-plain-api-key"
	result, err := Decrypt(plain, key)
	if err != nil {
		t.Fatalf("Decrypt plaintext: %v", err)
	}

	if result != plain {
		t.Fatalf("plaintext passthrough failed: got %q, want %q", result, plain)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key1 := testKey()
	key2, _ := DeriveKey("different-key-entirely")

	encrypted, err := Encrypt("secret", key1)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, err = Decrypt(encrypted, key2)
	if err == nil {
		t.Fatal("expected error when decrypting with wrong key")
	}
}

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"enc:abc123", true},
		{"enc:", true},
		{"ENC:abc", false},
		{"plaintext", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsEncrypted(tt.value); got != tt.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestDeriveKey(t *testing.T) {
	key, err := DeriveKey("short")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}

	// Long passphrase should still produce a 32-byte key.
	longKey, err := DeriveKey(strings.Repeat("a", 100))
	if err != nil {
		t.Fatalf("DeriveKey long: %v", err)
	}
	if len(longKey) != 32 {
		t.Fatalf("long key length = %d, want 32", len(longKey))
	}

	// Different passphrases should produce different keys.
	key2, _ := DeriveKey("different")
	if string(key) == string(key2) {
		t.Fatal("different passphrases should produce different keys")
	}

	// Empty passphrase should error.
	_, err = DeriveKey("")
	if err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}

func TestEncryptUniqueNonces(t *testing.T) {
	key := testKey()
	plain := "same-plaintext"

	enc1, _ := Encrypt(plain, key)
	enc2, _ := Encrypt(plain, key)

	if enc1 == enc2 {
		t.Fatal("two encryptions of the same plaintext should produce different ciphertext (unique nonces)")
	}

	// Both should decrypt to the same value.
	dec1, _ := Decrypt(enc1, key)
	dec2, _ := Decrypt(enc2, key)

	if dec1 != plain || dec2 != plain {
		t.Fatalf("both should decrypt to %q, got %q and %q", plain, dec1, dec2)
	}
}

// ─── notification-channel secret field helpers ───

func TestEncryptDecryptSecretFields(t *testing.T) {
	key := testKey()

	original, err := json.Marshal(map[string]any{
		"webhook_url": "https://hooks.example.com/secret-path",
		"bot_token":   "123456:ABC-secret-token",
		"channel":     "#alerts",
	})
	if err != nil {
		t.Fatalf("marshal original: %v", err)
	}

	encrypted, err := EncryptSecretFields(original, []string{"webhook_url", "bot_token"}, key)
	if err != nil {
		t.Fatalf("EncryptSecretFields: %v", err)
	}

	var enc map[string]any
	if err := json.Unmarshal(encrypted, &enc); err != nil {
		t.Fatalf("unmarshal encrypted: %v", err)
	}

	if !IsEncrypted(enc["webhook_url"].(string)) {
		t.Fatalf("webhook_url should be encrypted, got %v", enc["webhook_url"])
	}
	if !IsEncrypted(enc["bot_token"].(string)) {
		t.Fatalf("bot_token should be encrypted, got %v", enc["bot_token"])
	}
	if enc["channel"] != "#alerts" {
		t.Fatalf("non-listed field changed: got %v", enc["channel"])
	}

	decrypted, err := DecryptSecretFields(encrypted, []string{"webhook_url", "bot_token"}, key)
	if err != nil {
		t.Fatalf("DecryptSecretFields: %v", err)
	}

	var dec map[string]any
	if err := json.Unmarshal(decrypted, &dec); err != nil {
		t.Fatalf("unmarshal decrypted: %v", err)
	}

	if dec["webhook_url"] != "https://hooks.example.com/secret-path" {
		t.Fatalf("webhook_url round-trip: got %v", dec["webhook_url"])
	}
	if dec["bot_token"] != "123456:ABC-secret-token" {
		t.Fatalf("bot_token round-trip: got %v", dec["bot_token"])
	}
}

func TestEncryptDecryptSecretFieldsNilKey(t *testing.T) {
	original, _ := json.Marshal(map[string]any{"webhook_url": "https://hooks.example.com/x"})

	result, err := EncryptSecretFields(original, []string{"webhook_url"}, nil)
	if err != nil {
		t.Fatalf("EncryptSecretFields nil key: %v", err)
	}
	if string(result) != string(original) {
		t.Fatalf("nil key should not change payload: got %s", result)
	}

	result, err = DecryptSecretFields(original, []string{"webhook_url"}, nil)
	if err != nil {
		t.Fatalf("DecryptSecretFields nil key: %v", err)
	}
	if string(result) != string(original) {
		t.Fatalf("nil key should not change payload: got %s", result)
	}
}
