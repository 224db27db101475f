package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"empctl/internal/config"
	"empctl/internal/emp"
)

// NewStorageFromConfig creates the general-purpose state storage based on the
// storage config type.
func NewStorageFromConfig(ctx context.Context, cfg config.StorageConfig, clock emp.Clock) (emp.Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem storage requires dir to be set")
		}
		s, err := NewFileSystemStorage(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite storage")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		s, err := NewSQLiteStorage(filepath.Join(cfg.DataDir, "state.db"), clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3Storage(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// NewSecureStorageFromConfig creates the credential storage. The returned
// storage is locked until Unlock is called.
func NewSecureStorageFromConfig(cfg config.SecureConfig, encryptor emp.Encryptor) (*SecureStorage, error) {
	switch cfg.Type {
	case "memory":
		return NewSecureStorage(NewMemoryStorage(), encryptor), nil
	case "age", "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("secure storage requires dir to be set")
		}
		return NewSecureFileSystemStorage(cfg.Dir, encryptor)
	default:
		return nil, fmt.Errorf("unknown secure storage type: %s", cfg.Type)
	}
}

// Close releases resources held by s, if any.
func Close(s emp.Storage) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
