// Package config loads and validates the gridstore CLI configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (GRIDSTORE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete gridstore configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server configures the remote key-value server ("gridstore serve")
	Server ServerConfig `mapstructure:"server"`

	// Store is the default key-value backend document used when an array
	// spec or the serve command does not name its own
	Store map[string]any `mapstructure:"store"`

	// Codec bounds concurrent chunk encode/decode work
	Codec CodecConfig `mapstructure:"codec"`

	// Arrays maps short names to array spec documents, so commands can
	// say "gridstore info temperature" instead of passing a full spec
	Arrays map[string]map[string]any `mapstructure:"arrays"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// ServerConfig configures the remote key-value server.
type ServerConfig struct {
	// Address is the TCP listen address
	Address string `mapstructure:"address" validate:"required"`

	// Store is the backend the server exposes; empty falls back to the
	// top-level store document
	Store map[string]any `mapstructure:"store"`
}

// CodecConfig bounds chunk codec concurrency.
type CodecConfig struct {
	// Concurrency is the maximum number of chunks encoded or decoded at
	// once; zero selects the built-in default
	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`
}

// Load reads, defaults and validates the configuration.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// ArrayDoc returns the spec document registered under name. The document's
// "store" section defaults to the top-level store when absent.
func (c *Config) ArrayDoc(name string) (map[string]any, error) {
	doc, ok := c.Arrays[name]
	if !ok {
		known := make([]string, 0, len(c.Arrays))
		for k := range c.Arrays {
			known = append(known, k)
		}
		return nil, fmt.Errorf("unknown array %q (configured: %v)", name, known)
	}
	if _, ok := doc["store"]; !ok && c.Store != nil {
		out := make(map[string]any, len(doc)+1)
		for k, v := range doc {
			out[k] = v
		}
		out["store"] = c.Store
		return out, nil
	}
	return doc, nil
}

// ServerStore returns the backend document the serve command should expose.
func (c *Config) ServerStore() map[string]any {
	if c.Server.Store != nil {
		return c.Server.Store
	}
	return c.Store
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the GRIDSTORE_ prefix and underscores
	// Example: GRIDSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("GRIDSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/gridstore/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gridstore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gridstore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
