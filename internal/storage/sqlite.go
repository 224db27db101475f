package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"empctl/internal/emp"
	"empctl/internal/storage/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface on a single sqlite table.
type SQLiteStorage struct {
	db    *sql.DB
	path  string
	clock emp.Clock
}

// NewSQLiteStorage opens the database at path, applies pending migrations and
// verifies the schema. path can be a file path or ":memory:".
func NewSQLiteStorage(path string, clock emp.Clock) (*SQLiteStorage, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating state database: %w", err)
	}

	s := &SQLiteStorage{db: db, path: path, clock: clock}
	if err := s.CheckMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenConnection opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *SQLiteStorage) CheckMigrations() error {
	if err := migrations.CheckDBMigrationStatus(s.db); err != nil {
		return fmt.Errorf("state database schema out of date: %w", err)
	}
	return nil
}

// GetItem returns the value stored under key.
func (s *SQLiteStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM items WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading item %q: %w", key, err)
	}
	return value, true, nil
}

// SetItem stores value under key.
func (s *SQLiteStorage) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing item %q: %w", key, err)
	}
	return nil
}

// RemoveItem deletes key.
func (s *SQLiteStorage) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE key = ?", key); err != nil {
		return fmt.Errorf("removing item %q: %w", key, err)
	}
	return nil
}

// UpdatedAt returns when key was last written.
func (s *SQLiteStorage) UpdatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM items WHERE key = ?", key).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("reading item timestamp %q: %w", key, err)
	}
	return ts, true, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Compile-time check that SQLiteStorage implements emp.Storage interface
var _ emp.Storage = (*SQLiteStorage)(nil)
