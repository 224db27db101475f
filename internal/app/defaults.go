package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override default locations.
const (
	EnvConfigPath = "EMPCTL_CONFIG_PATH"
	EnvHome       = "EMPCTL_HOME"
	EnvPassphrase = "EMPCTL_PASSPHRASE"
)

// Defaults are the locations used when no config file says otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
//   - EMPCTL_CONFIG_PATH: config file location (default: ~/.config/empctl.toml)
//   - EMPCTL_HOME: base directory for empctl data (default: ~/.local/share/empctl)
func GetDefaults() (Defaults, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "empctl.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "empctl")
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

func fromEnvOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
