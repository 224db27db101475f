package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"filippo.io/age/armor"

	"empctl/internal/emp"
)

// SecureStorage holds credential material. Every value is encrypted with the
// configured Encryptor and ASCII-armored before it reaches the inner backend;
// reading requires the storage to be unlocked with the key passphrase.
// While locked, items read as absent and writes fail with emp.ErrLocked so a
// session that could not be read is never overwritten.
type SecureStorage struct {
	inner     emp.Storage
	encryptor emp.Encryptor

	mu  sync.RWMutex
	dec emp.DecryptionContext
}

// NewSecureStorage wraps inner with encryption. The storage starts locked.
func NewSecureStorage(inner emp.Storage, encryptor emp.Encryptor) *SecureStorage {
	return &SecureStorage{inner: inner, encryptor: encryptor}
}

// NewSecureFileSystemStorage creates secure storage backed by a directory only
// the current user can read.
func NewSecureFileSystemStorage(dir string, encryptor emp.Encryptor) (*SecureStorage, error) {
	inner, err := newFileSystemStorage(dir, 0700, 0600)
	if err != nil {
		return nil, err
	}
	return NewSecureStorage(inner, encryptor), nil
}

// Unlock unlocks the private key with passphrase for the rest of the session.
func (s *SecureStorage) Unlock(passphrase string) error {
	dec, err := s.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking secure storage: %w", err)
	}
	s.mu.Lock()
	s.dec = dec
	s.mu.Unlock()
	return nil
}

// Unlocked reports whether values can be decrypted.
func (s *SecureStorage) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dec != nil
}

// GetItem decrypts the value stored under key.
func (s *SecureStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	dec := s.dec
	s.mu.RUnlock()
	if dec == nil {
		return "", false, nil
	}

	sealed, ok, err := s.inner.GetItem(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}

	var plain bytes.Buffer
	if err := dec.Decrypt(armor.NewReader(strings.NewReader(sealed)), &plain); err != nil {
		return "", false, fmt.Errorf("decrypting item %q: %w: %w", key, emp.ErrCorrupt, err)
	}
	return plain.String(), true, nil
}

// SetItem encrypts value and stores it under key.
func (s *SecureStorage) SetItem(ctx context.Context, key, value string) error {
	if !s.Unlocked() {
		return emp.ErrLocked
	}

	var sealed bytes.Buffer
	aw := armor.NewWriter(&sealed)
	if err := s.encryptor.Encrypt(strings.NewReader(value), aw); err != nil {
		return fmt.Errorf("encrypting item %q: %w", key, err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("armoring item %q: %w", key, err)
	}
	return s.inner.SetItem(ctx, key, sealed.String())
}

// RemoveItem deletes key. Removal does not require the storage to be unlocked.
func (s *SecureStorage) RemoveItem(ctx context.Context, key string) error {
	return s.inner.RemoveItem(ctx, key)
}

// Compile-time check that SecureStorage implements emp.Storage interface
var _ emp.Storage = (*SecureStorage)(nil)
