package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}

	k1 := DeriveKey([]byte("correct horse battery staple"), salt)
	k2 := DeriveKey([]byte("correct horse battery staple"), salt)
	if !bytes.Equal(k1, k2) {
		t.Error("same password and salt produced different keys")
	}
	if len(k1) != KeyLength {
		t.Errorf("expected %d-byte key, got %d", KeyLength, len(k1))
	}

	other := DeriveKey([]byte("different password"), salt)
	if bytes.Equal(k1, other) {
		t.Error("different passwords produced the same key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := DeriveKey([]byte("password"), make([]byte, SaltLength))
	plaintext := []byte("the vault contents")

	blob, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("sealed blob contains plaintext")
	}

	got, err := Open(key, blob)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestOpenWrongKey(t *testing.T) {
	key := DeriveKey([]byte("password"), make([]byte, SaltLength))
	blob, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	wrong := DeriveKey([]byte("not the password"), make([]byte, SaltLength))
	if _, err := Open(wrong, blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestOpenTamperedBlob(t *testing.T) {
	key := DeriveKey([]byte("password"), make([]byte, SaltLength))
	blob, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	blob[len(blob)-1] ^= 0xff
	if _, err := Open(key, blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestOpenShortBlob(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := Open(key, []byte{1, 2, 3}); !errors.Is(err, ErrBlobTooShort) {
		t.Errorf("expected ErrBlobTooShort, got %v", err)
	}
}

func TestInvalidKeyLength(t *testing.T) {
	if _, err := Seal([]byte("short"), []byte("x")); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Seal: expected ErrInvalidKeyLength, got %v", err)
	}
	if _, err := Open([]byte("short"), make([]byte, 64)); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Open: expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestSecureWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	SecureWipe(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not wiped: %d", i, v)
		}
	}
}
