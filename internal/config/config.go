// Package config handles TinyMQ client configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./tinymq.yaml, ~/.config/tinymq/config.yaml, /etc/tinymq/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"tinymq.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tinymq", "config.yaml"))
	}

	paths = append(paths, "/etc/tinymq/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all TinyMQ client configuration. Identity and the broker
// endpoint are store-backed at runtime; the YAML values seed the store
// on first run and are ignored afterwards.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Serial   SerialConfig   `yaml:"serial"`
	Store    StoreConfig    `yaml:"store"`
	Identity IdentityConfig `yaml:"identity"`
	LogLevel string         `yaml:"log_level"`
}

// BrokerConfig defines the TCP endpoint of the TinyMQ broker.
type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SerialConfig defines the microcontroller serial link.
type SerialConfig struct {
	// Port is the device path (e.g. /dev/ttyUSB0). Empty disables the
	// acquisition service.
	Port string `yaml:"port"`
	// Baud is the line rate. Defaults to 115200, the rate the
	// classroom firmware ships with.
	Baud int `yaml:"baud"`
	// Verbose logs every sensor reading at debug level.
	Verbose bool `yaml:"verbose"`
}

// StoreConfig defines the local SQLite database location.
type StoreConfig struct {
	// Path is the database file. Defaults to tinymq.db in the working
	// directory.
	Path string `yaml:"path"`
}

// IdentityConfig seeds the client identity on first run. The store is
// authoritative once a client_id row exists.
type IdentityConfig struct {
	ClientID string `yaml:"client_id"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if cfg.Serial.Baud <= 0 {
		cfg.Serial.Baud = 115200
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{Host: "localhost", Port: 1505},
		Serial: SerialConfig{Baud: 115200},
		Store:  StoreConfig{Path: "tinymq.db"},
	}
}
