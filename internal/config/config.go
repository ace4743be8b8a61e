// Package config loads agentvcs's runtime configuration: which storage
// backend to use, the default agent identity, and the paths to
// retention/encryption settings. It follows the same viper-backed,
// environment-overrides-file precedence used throughout the rest of the
// module's tooling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD to find a project .agentvcs/config.yaml, so
	//    commands work the same from any subdirectory.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".agentvcs", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/agentvcs/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "agentvcs", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.agentvcs/config.yaml).
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".agentvcs", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables (AGENTVCS_*) take precedence over the config
	// file; AGENTVCS_STORAGE_BACKEND maps to storage.backend, etc.
	v.SetEnvPrefix("AGENTVCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("agent-id", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite.path", ".agentvcs/store.db")
	v.SetDefault("storage.sqlite.lock-timeout", "30s")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.namespace", "default")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")

	v.SetDefault("retention.policy-path", "")
	v.SetDefault("retention.max-age", "0s")
	v.SetDefault("retention.max-commits", 0)
	v.SetDefault("retention.keep-branches", []string{"main"})

	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.key-env", "AGENTVCS_ENCRYPTION_KEY")

	v.SetDefault("gc.keep-last-n", 0)

	v.SetDefault("summary.enabled", false)
	v.SetDefault("summary.model", "claude-3-5-haiku-20241022")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read config file: %w", err)
		}
	}

	return nil
}

// StorageConfig is the resolved storage-backend selection.
type StorageConfig struct {
	Backend        string
	SQLitePath     string
	SQLiteLockWait time.Duration
	PostgresDSN    string
	PostgresNS     string
	S3Bucket       string
	S3Prefix       string
}

// GetStorageConfig reads the storage.* settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:        GetString("storage.backend"),
		SQLitePath:     GetString("storage.sqlite.path"),
		SQLiteLockWait: GetDuration("storage.sqlite.lock-timeout"),
		PostgresDSN:    GetString("storage.postgres.dsn"),
		PostgresNS:     GetString("storage.postgres.namespace"),
		S3Bucket:       GetString("storage.s3.bucket"),
		S3Prefix:       GetString("storage.s3.prefix"),
	}
}

// GetAgentID resolves the default agent identity for commit authorship.
// Priority: explicit flagValue, then config/env, then hostname.
func GetAgentID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if id := GetString("agent-id"); id != "" {
		return id
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return "agent@" + hostname
	}
	return "agent"
}

// GetEncryptionKey resolves the at-rest encryption passphrase from the
// environment variable named by encryption.key-env, or "" if encryption
// is disabled or the variable is unset.
func GetEncryptionKey() string {
	if !GetBool("encryption.enabled") {
		return ""
	}
	envVar := GetString("encryption.key-env")
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set overrides a configuration value, mainly for tests and flag binding.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns every configuration setting as a nested map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
