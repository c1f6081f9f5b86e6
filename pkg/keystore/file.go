package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tpass/tpass/pkg/crypto"
	"github.com/tpass/tpass/pkg/safefile"
)

const (
	// DirMode is the permission set for the keystore directory.
	DirMode = 0o700

	keyFileSuffix = ".key"
)

// fileDocument is the on-disk layout: a KDF salt and the sealed JSON map.
type fileDocument struct {
	Salt string `json:"salt"`
	Blob string `json:"blob"`
}

// FileStore is a Store persisted as a single AES-256-GCM encrypted file.
// The encryption key is derived with Argon2id from a random device key file
// created next to the store on first use.
type FileStore struct {
	mu       sync.Mutex
	path     string
	key      []byte
	salt     []byte
	replacer *safefile.Replacer
	values   map[string]string
}

// OpenFile opens or creates the encrypted store at path.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("keystore: failed to create directory: %w", err)
	}

	deviceKey, err := loadOrCreateDeviceKey(path + keyFileSuffix)
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		path:     path,
		replacer: safefile.New(),
		values:   make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		s.key = crypto.DeriveKey(deviceKey, salt)
		if err := s.flushLocked(salt); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to read store: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("keystore: store file is corrupt: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(doc.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore: store file is corrupt: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(doc.Blob)
	if err != nil {
		return nil, fmt.Errorf("keystore: store file is corrupt: %w", err)
	}

	s.key = crypto.DeriveKey(deviceKey, salt)
	plain, err := crypto.Open(s.key, blob)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to decrypt store: %w", err)
	}
	if err := json.Unmarshal(plain, &s.values); err != nil {
		return nil, fmt.Errorf("keystore: failed to decode store: %w", err)
	}
	s.salt = salt
	return s, nil
}

func loadOrCreateDeviceKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keystore: failed to read device key: %w", err)
	}

	fresh := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("keystore: failed to generate device key: %w", err)
	}
	if err := os.WriteFile(path, fresh, safefile.FileMode); err != nil {
		return nil, fmt.Errorf("keystore: failed to write device key: %w", err)
	}
	return fresh, nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked(s.salt)
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.flushLocked(s.salt)
}

func (s *FileStore) flushLocked(salt []byte) error {
	plain, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("keystore: failed to encode store: %w", err)
	}
	blob, err := crypto.Seal(s.key, plain)
	if err != nil {
		return fmt.Errorf("keystore: failed to encrypt store: %w", err)
	}
	doc, err := json.Marshal(fileDocument{
		Salt: base64.StdEncoding.EncodeToString(salt),
		Blob: base64.StdEncoding.EncodeToString(blob),
	})
	if err != nil {
		return fmt.Errorf("keystore: failed to encode document: %w", err)
	}
	if err := s.replacer.Replace(s.path, doc); err != nil {
		return fmt.Errorf("keystore: failed to persist store: %w", err)
	}
	s.salt = salt
	return nil
}
