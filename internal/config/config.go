// Package config loads credmux configuration from a TOML file, with
// environment variables supplying the credential material itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variables consumed at runtime. These live in the watched
// settings file and are applied to the process environment on reload.
const (
	// EnvCookies is the bulk credential string: comma-separated cookie
	// entries, one upstream account each.
	EnvCookies = "CREDMUX_COOKIES"

	// EnvAdminKey is the caller-facing admin/API credential.
	EnvAdminKey = "CREDMUX_ADMIN_KEY"
)

// Config holds credmux settings.
type Config struct {
	// Listen is the admin API listen address.
	Listen string `toml:"listen"`

	// DataDir is where the durable account table and the event history
	// database live.
	DataDir string `toml:"data_dir"`

	// SettingsFile is the KEY=VALUE file watched for live reload.
	SettingsFile string `toml:"settings_file"`

	// ExchangeURL is the upstream endpoint used to refresh elevated
	// session credentials.
	ExchangeURL string `toml:"exchange_url"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:       "127.0.0.1:8700",
		DataDir:      "~/.local/share/credmux",
		SettingsFile: "~/.config/credmux/settings.env",
		ExchangeURL:  "https://api.upstream.example/v1/oauth/refresh",
	}
}

// Load reads a TOML config file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config at path, or returns defaults when path is
// empty or the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// StorePath returns the path of the durable account table.
func (c *Config) StorePath() string {
	return filepath.Join(expandPath(c.DataDir), "accounts.json")
}

// HistoryPath returns the path of the event history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(expandPath(c.DataDir), "history.db")
}

// SettingsPath returns the expanded path of the watched settings file.
func (c *Config) SettingsPath() string {
	return expandPath(c.SettingsFile)
}

// SessionCookies returns the configured bulk credential entries, split into
// individual cookies. Empty entries are dropped.
func SessionCookies() []string {
	raw := os.Getenv(EnvCookies)
	if raw == "" {
		return nil
	}
	var cookies []string
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			cookies = append(cookies, entry)
		}
	}
	return cookies
}

// AdminKey returns the configured admin credential, empty if unset.
func AdminKey() string {
	return os.Getenv(EnvAdminKey)
}
