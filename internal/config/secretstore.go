package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maziarzamani/spaceduck-sub000/common/crypto"
)

// SecretEntry describes one known secret path's set/unset state for
// getRedacted's {path, isSet} listing.
type SecretEntry struct {
	Path  string `json:"path"`
	IsSet bool   `json:"isSet"`
}

// secretStore persists secret values in a single AES-256-GCM-encrypted
// file, separate from the plain config document. It never contributes
// to Rev and is written atomically exactly like the document itself.
type secretStore struct {
	mu       sync.Mutex
	path     string
	key      []byte
	values   map[string]string
}

func newSecretStore(dir string, key []byte) (*secretStore, error) {
	s := &secretStore{
		path:   filepath.Join(dir, "spaceduck.secrets.enc"),
		key:    key,
		values: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *secretStore) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read secret store: %w", err)
	}

	plaintext, err := crypto.Decrypt(s.key, raw)
	if err != nil {
		return fmt.Errorf("config: decrypt secret store: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return fmt.Errorf("config: parse secret store: %w", err)
	}
	s.values = values
	return nil
}

func (s *secretStore) persist() error {
	plaintext, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("config: marshal secret store: %w", err)
	}

	ciphertext, err := crypto.Encrypt(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("config: encrypt secret store: %w", err)
	}

	return atomicWrite(s.path, ciphertext)
}

// Set stores value under path. path must be a known secret path.
func (s *secretStore) Set(path, value string) error {
	if !isSecretPath(path) {
		return fmt.Errorf("config: %q is not a known secret path", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[path] = value
	return s.persist()
}

// Unset removes path, if present.
func (s *secretStore) Unset(path string) error {
	if !isSecretPath(path) {
		return fmt.Errorf("config: %q is not a known secret path", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, path)
	return s.persist()
}

// Get returns the plaintext value for path and whether it is set.
func (s *secretStore) Get(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[path]
	return v, ok
}

// Entries returns {path, isSet} for every known secret path, in the
// order SecretPaths declares them.
func (s *secretStore) Entries() []SecretEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := SecretPaths()
	out := make([]SecretEntry, 0, len(paths))
	for _, p := range paths {
		_, ok := s.values[p]
		out = append(out, SecretEntry{Path: p, IsSet: ok})
	}
	return out
}
