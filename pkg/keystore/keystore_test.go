package keystore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	m := NewMemory()

	if _, ok, _ := m.Get("missing"); ok {
		t.Error("expected missing key")
	}
	if err := m.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := m.Get("k")
	if err != nil || !ok || v != "v" {
		t.Errorf("Get = (%q, %v, %v), want (v, true, nil)", v, ok, err)
	}
	if err := m.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := m.Get("k"); ok {
		t.Error("key survived Delete")
	}
	if err := m.Delete("k"); err != nil {
		t.Errorf("deleting an absent key must not error: %v", err)
	}
}

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "keystore.enc")

	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := s.Set("master_password", "digest-value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	v, ok, err := reopened.Get("master_password")
	if err != nil || !ok || v != "digest-value" {
		t.Errorf("Get after reopen = (%q, %v, %v)", v, ok, err)
	}
}

func TestFileStoreValuesNotPlaintextOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.enc")

	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := s.Set("token", "very-secret-token"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(raw), "very-secret-token") {
		t.Error("value stored in plaintext on disk")
	}
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.enc")
	if _, err := OpenFile(path); err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}

	for _, p := range []string{path, path + keyFileSuffix} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("Stat %s failed: %v", p, err)
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			t.Errorf("%s has insecure permissions %04o", p, perm)
		}
	}
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.enc")
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, ok, _ := reopened.Get("k"); ok {
		t.Error("deleted key survived reopen")
	}
}
