package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/extpack-labs/extpack/internal/branding"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Configuration keys with their defaults.
const (
	KeyCacheDir        = "cache.dir"
	KeyMaxSizeMB       = "install.max_size_mb"
	KeyTimeoutSeconds  = "install.timeout_seconds"
	KeyBackupCount     = "install.backup_count"
	KeySettingsPath    = "install.settings_path"
	KeyAllowedDomains  = "security.allowed_domains"
	KeyBlockedDomains  = "security.blocked_domains"
	KeyDefaultStrategy = "install.array_strategy"
)

// Dir returns the path to the extpack config directory (~/.extpack/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.extpack/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// Load initializes Viper to read from the config file and environment,
// and registers defaults.
func Load() {
	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.AutomaticEnv()

	viper.SetDefault(KeyCacheDir, filepath.Join(Dir(), "cache"))
	viper.SetDefault(KeyMaxSizeMB, 100)
	viper.SetDefault(KeyTimeoutSeconds, 60)
	viper.SetDefault(KeyBackupCount, 3)
	viper.SetDefault(KeySettingsPath, filepath.Join(Dir(), "settings.json"))
	viper.SetDefault(KeyDefaultStrategy, "dedupe")

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// GetInt returns an integer config value by key.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetStringSlice returns a list config value by key.
func GetStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// InstalledDir returns where extension payloads are materialized
// (~/.extpack/installed/).
func InstalledDir() string {
	return filepath.Join(Dir(), "installed")
}
