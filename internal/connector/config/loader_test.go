package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// isolate points HOME at an empty directory so a developer's own
// ~/.erebrus.yaml cannot leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoader_Load_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := NewLoader().WithEnvFile("").Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.GatewayURL != "https://gateway.dev.netsepio.com" {
		t.Errorf("wrong GatewayURL: got %s", cfg.GatewayURL)
	}
	if cfg.AuthPrefix != "/api/v1.1" || cfg.APIPrefix != "/api/v1.0" {
		t.Errorf("wrong prefixes: %s %s", cfg.AuthPrefix, cfg.APIPrefix)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("wrong RequestTimeout: got %s", cfg.RequestTimeout)
	}
	if cfg.Interface != "wg0" {
		t.Errorf("wrong Interface: got %s", cfg.Interface)
	}
	if cfg.MTU != 1280 {
		t.Errorf("wrong MTU: got %d", cfg.MTU)
	}
	if got := cfg.DNSServers(); len(got) != 2 || got[0] != "1.1.1.1" || got[1] != "8.8.8.8" {
		t.Errorf("wrong DNS servers: %v", got)
	}
	if cfg.SaveProfiles {
		t.Error("profile store should be opt-in")
	}
	if cfg.StorePath != filepath.Join(home, ".erebrus", "profiles.db") {
		t.Errorf("StorePath not expanded: %s", cfg.StorePath)
	}
	if cfg.ClientName == "" || len(cfg.ClientName) > 8 {
		t.Errorf("bad default ClientName: %q", cfg.ClientName)
	}
}

func TestLoader_Load_FromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("EREBRUS_GATEWAY_URL", "https://gateway.erebrus.io/")
	t.Setenv("EREBRUS_LOG_LEVEL", "warn")
	t.Setenv("EREBRUS_REQUEST_TIMEOUT", "5s")
	t.Setenv("EREBRUS_SAVE_PROFILES", "true")
	t.Setenv("EREBRUS_DNS", "9.9.9.9")

	cfg, err := NewLoader().WithEnvFile("").Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.GatewayURL != "https://gateway.erebrus.io" {
		t.Errorf("wrong GatewayURL: got %s", cfg.GatewayURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("wrong LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("wrong RequestTimeout: got %s", cfg.RequestTimeout)
	}
	if !cfg.SaveProfiles {
		t.Error("expected SaveProfiles to be true")
	}
	if got := cfg.DNSServers(); len(got) != 1 || got[0] != "9.9.9.9" {
		t.Errorf("wrong DNS servers: %v", got)
	}
}

func TestLoader_Load_EnvFile(t *testing.T) {
	isolate(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("EREBRUS_API_KEY=from-dotenv\nEREBRUS_INTERFACE=wg7\n"), 0600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("EREBRUS_INTERFACE", "wg9")
	t.Cleanup(func() { os.Unsetenv("EREBRUS_API_KEY") })

	cfg, err := NewLoader().WithEnvFile(envFile).Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.APIKey != "from-dotenv" {
		t.Errorf("api_key not read from .env: %q", cfg.APIKey)
	}
	if cfg.Interface != "wg9" {
		t.Errorf("process environment should win over .env, got %s", cfg.Interface)
	}
}

func TestLoadWithPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "erebrus.yaml")
	content := `gateway_url: https://gateway.example.com
client_name: laptop
mtu: 1420
dns: "1.0.0.1, 1.1.1.1"
log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadWithPath(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.GatewayURL != "https://gateway.example.com" || cfg.ClientName != "laptop" || cfg.MTU != 1420 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if got := cfg.DNSServers(); len(got) != 2 || got[0] != "1.0.0.1" {
		t.Errorf("wrong DNS servers: %v", got)
	}
	if cfg.LoggerConfig().Format != logger.FormatJSON {
		t.Errorf("log format not mapped: %s", cfg.LoggerConfig().Format)
	}

	if _, err := LoadWithPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		key   string
		value any
		want  string
	}{
		{"gateway_url", "", "gateway_url is required"},
		{"gateway_url", "ftp://gateway", "invalid gateway_url"},
		{"request_timeout", "10ms", "request_timeout"},
		{"interface", "", "interface name is required"},
		{"mtu", 100, "invalid mtu"},
		{"dns", " , ", "dns server"},
		{"log_level", "verbose", "invalid log_level"},
		{"log_format", "xml", "invalid log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+strings.TrimSpace(tt.want), func(t *testing.T) {
			isolate(t)
			loader := NewLoader().WithEnvFile("")
			loader.Set(tt.key, tt.value)

			_, err := loader.Load()
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to contain %q, got %q", tt.want, err)
			}
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".erebrus.yaml")

	loader := NewLoader().WithEnvFile("")
	loader.Set("api_key", "saved-key")
	if err := loader.WriteDefaultConfig(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("wrong permissions: got %v", info.Mode().Perm())
	}

	cfg, err := LoadWithPath(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.APIKey != "saved-key" {
		t.Errorf("wrong APIKey: got %q", cfg.APIKey)
	}

	if err := NewLoader().WriteDefaultConfig(path); !errors.Is(err, ErrConfigExists) {
		t.Errorf("expected ErrConfigExists, got %v", err)
	}
}
