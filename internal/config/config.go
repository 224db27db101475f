package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultBaseURL is the REST collaborator the client talks to out of the box.
const DefaultBaseURL = "https://dummy.restapiexample.com/api/v1"

// Config represents the main configuration for empctl.
type Config struct {
	BaseDir     string           `toml:"base_dir"`
	LogDir      string           `toml:"log_dir"`
	Environment string           `toml:"environment"` // "development" (default) or "production"
	API         APIConfig        `toml:"api"`
	Storage     StorageConfig    `toml:"storage"`
	Secure      SecureConfig     `toml:"secure"`
	Encryption  EncryptionConfig `toml:"encryption"`
	Persist     PersistConfig    `toml:"persist"`
}

// APIConfig configures the remote data client.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"` // transport timeout; 0 means none

	// TokenSecret, when set, makes the login stub mint an HS256 bearer token.
	TokenSecret     string `toml:"token_secret,omitempty"`
	TokenTTLMinutes int    `toml:"token_ttl_minutes,omitempty"`
}

// StorageConfig represents configuration for the general-purpose state storage.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type string `toml:"type"` // "filesystem", "sqlite", "s3" or "memory"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Dir string `toml:"dir,omitempty"`

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// SecureConfig represents configuration for the credential storage.
type SecureConfig struct {
	Type string `toml:"type"`          // "age" or "memory"
	Dir  string `toml:"dir,omitempty"` // only used for type=age
}

// EncryptionConfig holds paths to the age key pair protecting secure storage.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// PersistConfig names the persisted documents and the partitions routed to
// secure storage.
type PersistConfig struct {
	Key              string   `toml:"key"`
	Version          int      `toml:"version"`
	SecureKey        string   `toml:"secure_key"`
	SecurePartitions []string `toml:"secure_partitions"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:     baseDir,
		LogDir:      filepath.Join(baseDir, "log"),
		Environment: "development",
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			Type: "filesystem",
			Dir:  filepath.Join(baseDir, "state"),
		},
		Secure: SecureConfig{
			Type: "age",
			Dir:  filepath.Join(baseDir, "secure"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "empctl.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "empctl.key"),
		},
		Persist: PersistConfig{
			Key:              "root",
			Version:          1,
			SecureKey:        "token",
			SecurePartitions: []string{"auth"},
		},
	}
}

// IsProduction reports whether diagnostics should be suppressed.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry S3 credentials and the token secret.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
