package pairing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/torbobase/torbo-base/common/crypto"
)

// SecretStore exclusively owns the encrypted paired-device blob and the
// provider API keys persisted alongside it. It is the single writer of
// keychain.enc; the pairing manager holds a read-through copy in memory.
type SecretStore struct {
	mu       sync.Mutex
	path     string
	key      []byte
	loaded   bool
	keychain keychain
}

// NewSecretStore returns a SecretStore that will read/write path, encrypting
// with key (32 bytes, see common/crypto.LoadMasterKey).
func NewSecretStore(path string, key []byte) *SecretStore {
	return &SecretStore{path: path, key: key}
}

// Load reads and decrypts the keychain file on first access and caches the
// result for the process lifetime. A missing file is treated as an empty
// keychain, not an error, so first-run pairing works without operator setup.
func (s *SecretStore) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.keychain = keychain{APIKeys: make(map[string]string)}
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("pairing: read keychain: %w", err)
	}

	plaintext, err := crypto.Decrypt(s.key, data)
	if err != nil {
		return fmt.Errorf("pairing: decrypt keychain: %w", err)
	}

	var kc keychain
	if err := json.Unmarshal(plaintext, &kc); err != nil {
		return fmt.Errorf("pairing: parse keychain: %w", err)
	}
	if kc.APIKeys == nil {
		kc.APIKeys = make(map[string]string)
	}
	s.keychain = kc
	s.loaded = true
	return nil
}

// Devices returns the current device list. Callers must not mutate the
// returned slice's Device values in place; use Put/Delete instead.
func (s *SecretStore) Devices() ([]*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make([]*Device, len(s.keychain.Devices))
	copy(out, s.keychain.Devices)
	return out, nil
}

// PutDevice inserts or replaces a device by ID and persists the change.
func (s *SecretStore) PutDevice(d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	for i, existing := range s.keychain.Devices {
		if existing.ID == d.ID {
			s.keychain.Devices[i] = d
			return s.persistLocked()
		}
	}
	s.keychain.Devices = append(s.keychain.Devices, d)
	return s.persistLocked()
}

// TouchLastSeen updates a device's LastSeen timestamp and persists the
// change. Intended to be debounced by the caller (the HTTP dispatcher
// touches a device at most once per debounce interval).
func (s *SecretStore) TouchLastSeen(deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	for _, d := range s.keychain.Devices {
		if d.ID == deviceID {
			d.LastSeen = &at
			return s.persistLocked()
		}
	}
	return fmt.Errorf("pairing: device %q not found", deviceID)
}

// DeleteDevice removes a device explicitly (operator action). Tokens are
// never regenerated; deletion is the only way to revoke one.
func (s *SecretStore) DeleteDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	kept := s.keychain.Devices[:0]
	found := false
	for _, d := range s.keychain.Devices {
		if d.ID == deviceID {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	s.keychain.Devices = kept
	if !found {
		return fmt.Errorf("pairing: device %q not found", deviceID)
	}
	return s.persistLocked()
}

// Account returns the linked user account record, or nil if none is set.
func (s *SecretStore) Account() (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.keychain.Account, nil
}

// SetAccount replaces the linked user account record and persists the
// change.
func (s *SecretStore) SetAccount(a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	s.keychain.Account = a
	return s.persistLocked()
}

// APIKey returns the stored key for a provider, or "" if unset.
func (s *SecretStore) APIKey(provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", err
	}
	return s.keychain.APIKeys[provider], nil
}

// APIKeys returns a copy of all provider->key entries.
func (s *SecretStore) APIKeys() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(s.keychain.APIKeys))
	for k, v := range s.keychain.APIKeys {
		out[k] = v
	}
	return out, nil
}

// SetAPIKeys merges the given provider->key entries into the keychain and
// persists the change. An empty value deletes that provider's key.
func (s *SecretStore) SetAPIKeys(keys map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	if s.keychain.APIKeys == nil {
		s.keychain.APIKeys = make(map[string]string)
	}
	for k, v := range keys {
		if v == "" {
			delete(s.keychain.APIKeys, k)
			continue
		}
		s.keychain.APIKeys[k] = v
	}
	return s.persistLocked()
}

// persistLocked serializes the keychain, encrypts it, and writes it through
// a temp-file-then-rename so a crash mid-write never corrupts the prior
// version. Must be called with s.mu held.
func (s *SecretStore) persistLocked() error {
	plaintext, err := json.Marshal(s.keychain)
	if err != nil {
		return fmt.Errorf("pairing: marshal keychain: %w", err)
	}
	ciphertext, err := crypto.Encrypt(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("pairing: encrypt keychain: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".keychain-*.tmp")
	if err != nil {
		return fmt.Errorf("pairing: create temp keychain file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		return fmt.Errorf("pairing: write temp keychain file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pairing: close temp keychain file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("pairing: rename keychain file: %w", err)
	}
	return nil
}
