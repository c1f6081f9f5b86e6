// Package config loads the tpass configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRemoteBaseURL is the disk API the sync commands talk to unless the
// config overrides it.
const DefaultRemoteBaseURL = "https://cloud.yandex.net/v1/disk"

// Duration wraps time.Duration so YAML values like "30s" or "2m" parse.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultRemotePath is where the vault file lives on the remote disk.
const DefaultRemotePath = "app:/passwords.txt"

// Config is the full on-disk configuration. Zero fields fall back to the
// defaults applied by Load.
type Config struct {
	// DataDir roots every local file below when their paths are relative.
	DataDir string `yaml:"data_dir"`

	VaultFile    string `yaml:"vault_file"`
	MirrorFile   string `yaml:"mirror_file"`
	KeystoreFile string `yaml:"keystore_file"`
	HistoryFile  string `yaml:"history_file"`

	Remote RemoteConfig `yaml:"remote"`

	// IdleTimeout is how long an unlocked session stays open without
	// activity before it locks itself.
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// RemoteConfig configures the sync client.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Path    string   `yaml:"path"`
	Timeout Duration `yaml:"timeout"`
}

// Default returns the configuration used when no config file exists, rooted
// at ~/.tpass.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	c := &Config{DataDir: filepath.Join(home, ".tpass")}
	c.applyDefaults()
	return c
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".tpass", "config.yaml")
}

// Load reads the YAML config at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.VaultFile == "" {
		c.VaultFile = "passwords.txt"
	}
	if c.MirrorFile == "" {
		c.MirrorFile = "mirror.db"
	}
	if c.KeystoreFile == "" {
		c.KeystoreFile = "keystore.json"
	}
	if c.HistoryFile == "" {
		c.HistoryFile = "history.db"
	}
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = DefaultRemoteBaseURL
	}
	if c.Remote.Path == "" {
		c.Remote.Path = DefaultRemotePath
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = Duration(30 * time.Second)
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = Duration(30 * time.Second)
	}
}

// VaultPath returns the absolute vault file path.
func (c *Config) VaultPath() string { return c.resolve(c.VaultFile) }

// MirrorPath returns the absolute mirror database path.
func (c *Config) MirrorPath() string { return c.resolve(c.MirrorFile) }

// KeystorePath returns the absolute keystore file path.
func (c *Config) KeystorePath() string { return c.resolve(c.KeystoreFile) }

// HistoryPath returns the absolute history database path.
func (c *Config) HistoryPath() string { return c.resolve(c.HistoryFile) }

// EnsureDataDir creates the data directory with owner-only permissions.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("config: failed to create data dir %s: %w", c.DataDir, err)
	}
	return nil
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
