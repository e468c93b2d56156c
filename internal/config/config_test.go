package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Listen == "" {
		t.Error("Listen should not be empty")
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if cfg.SettingsFile == "" {
		t.Error("SettingsFile should not be empty")
	}
	if cfg.ExchangeURL == "" {
		t.Error("ExchangeURL should not be empty")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credmux.toml")
	content := `
listen = "0.0.0.0:9000"
data_dir = "/var/lib/credmux"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:9000")
	}
	if cfg.DataDir != "/var/lib/credmux" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/var/lib/credmux")
	}
	// Unset fields keep defaults.
	if cfg.SettingsFile != Default().SettingsFile {
		t.Errorf("SettingsFile = %q, want default", cfg.SettingsFile)
	}
}

func TestLoadNonExistent(t *testing.T) {
	if _, err := Load("/nonexistent/path/credmux.toml"); err == nil {
		t.Error("Expected error for non-existent config")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault(\"\") error: %v", err)
	}
	if cfg.Listen != Default().Listen {
		t.Error("LoadOrDefault(\"\") should return defaults")
	}

	cfg, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault(missing) error: %v", err)
	}
	if cfg.DataDir != Default().DataDir {
		t.Error("LoadOrDefault(missing) should return defaults")
	}
}

func TestStorePathWithTilde(t *testing.T) {
	home, _ := os.UserHomeDir()
	cfg := &Config{DataDir: "~/data"}

	got := cfg.StorePath()
	want := filepath.Join(home, "data", "accounts.json")
	if got != want {
		t.Errorf("StorePath() = %q, want %q", got, want)
	}
}

func TestHistoryPath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/credmux"}
	if got := cfg.HistoryPath(); got != "/var/lib/credmux/history.db" {
		t.Errorf("HistoryPath() = %q", got)
	}
}

func TestSessionCookies(t *testing.T) {
	t.Setenv(EnvCookies, "sessionKey=a, sessionKey=b ,,sessionKey=c")

	cookies := SessionCookies()
	if len(cookies) != 3 {
		t.Fatalf("SessionCookies() returned %d entries, want 3: %v", len(cookies), cookies)
	}
	for i, want := range []string{"sessionKey=a", "sessionKey=b", "sessionKey=c"} {
		if cookies[i] != want {
			t.Errorf("cookies[%d] = %q, want %q", i, cookies[i], want)
		}
	}
}

func TestSessionCookiesEmpty(t *testing.T) {
	t.Setenv(EnvCookies, "")
	if got := SessionCookies(); got != nil {
		t.Errorf("SessionCookies() = %v, want nil", got)
	}
}

func TestAdminKey(t *testing.T) {
	t.Setenv(EnvAdminKey, "s3cret")
	if got := AdminKey(); got != "s3cret" {
		t.Errorf("AdminKey() = %q, want %q", got, "s3cret")
	}
	if !strings.HasPrefix(EnvAdminKey, "CREDMUX_") {
		t.Errorf("EnvAdminKey = %q, want CREDMUX_ prefix", EnvAdminKey)
	}
}
