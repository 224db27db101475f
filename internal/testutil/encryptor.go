package testutil

import (
	"testing"

	"empctl/internal/emp"
	"empctl/internal/encryption"
	"empctl/internal/storage"
)

// TestPassphrase is the passphrase NewTestSecureStorage sets up and unlocks with.
const TestPassphrase = "correct horse battery staple"

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() emp.Encryptor {
	return encryption.NewTestEncryptor()
}

// NewTestSecureStorage returns an unlocked SecureStorage over memory.
func NewTestSecureStorage(t *testing.T) *storage.SecureStorage {
	t.Helper()

	enc := encryption.NewTestEncryptor()
	if err := enc.Setup(TestPassphrase); err != nil {
		t.Fatalf("failed to set up encryptor: %v", err)
	}
	s := storage.NewSecureStorage(storage.NewMemoryStorage(), enc)
	if err := s.Unlock(TestPassphrase); err != nil {
		t.Fatalf("failed to unlock secure storage: %v", err)
	}
	return s
}
