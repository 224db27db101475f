package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"empctl/internal/emp"
)

// FileSystemStorage is a filesystem-based implementation of the Storage interface.
// Each key is stored as one file in a flat directory:
//
//	<root>/
//	  <escaped key>    (one document per key, e.g. persist:root)
type FileSystemStorage struct {
	root string
	perm os.FileMode
}

// NewFileSystemStorage creates a new filesystem storage rooted at the given path.
func NewFileSystemStorage(root string) (*FileSystemStorage, error) {
	return newFileSystemStorage(root, 0755, 0644)
}

func newFileSystemStorage(root string, dirPerm, filePerm os.FileMode) (*FileSystemStorage, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileSystemStorage{root: root, perm: filePerm}, nil
}

func (s *FileSystemStorage) path(key string) string {
	return filepath.Join(s.root, url.PathEscape(key))
}

// GetItem returns the value stored under key.
func (s *FileSystemStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read item %q: %w", key, err)
	}
	return string(data), true, nil
}

// SetItem stores value under key using atomic write (temp file + rename).
func (s *FileSystemStorage) SetItem(_ context.Context, key, value string) error {
	return s.writeFile(s.path(key), []byte(value))
}

// RemoveItem deletes key. Missing keys are ignored.
func (s *FileSystemStorage) RemoveItem(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove item %q: %w", key, err)
	}
	return nil
}

// writeFile writes data to destPath using atomic write (temp file + rename).
func (s *FileSystemStorage) writeFile(destPath string, data []byte) error {
	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := tmpFile.Write(data)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Chmod(s.perm); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != len(data) {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", len(data), written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStorage implements emp.Storage interface
var _ emp.Storage = (*FileSystemStorage)(nil)
