package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chiquitav2/erebrus-connector/internal/connector/client"
	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
)

// EnvPrefix is prepended to every environment variable, e.g. EREBRUS_GATEWAY_URL.
const EnvPrefix = "EREBRUS"

// ErrConfigExists is returned by WriteDefaultConfig when the file is already there.
var ErrConfigExists = errors.New("config file already exists")

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v       *viper.Viper
	envFile string
}

// NewLoader creates a new configuration loader. A .env file in the working
// directory is loaded when present.
func NewLoader() *Loader {
	return &Loader{
		v:       viper.New(),
		envFile: ".env",
	}
}

// WithEnvFile loads variables from path instead of ./.env. An empty path
// disables .env loading.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Set overrides a single key, typically from a command line flag.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load loads configuration from files and environment variables.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}
	l.setDefaults()
	l.setupConfigPaths()
	l.setupEnvVars()

	// Try to read config file (it's optional)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return l.unmarshal()
}

// LoadWithPath loads configuration from a specific file path.
func LoadWithPath(path string) (*Config, error) {
	loader := NewLoader()
	if err := loader.loadEnvFile(); err != nil {
		return nil, err
	}
	loader.setDefaults()
	loader.setupEnvVars()

	loader.v.SetConfigFile(path)
	if err := loader.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return loader.unmarshal()
}

// DefaultConfigPath returns ~/.erebrus.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".erebrus.yaml"), nil
}

// WriteDefaultConfig writes the default settings, plus any values set with
// Set, to path. An existing file is left alone and ErrConfigExists returned.
// The file may carry an API key, so it is written owner-only.
func (l *Loader) WriteDefaultConfig(path string) error {
	l.setDefaults()
	l.v.SetConfigPermissions(0600)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := l.v.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if errors.As(err, &exists) {
			return ErrConfigExists
		}
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	cfg.ConfigDir = expandPath(cfg.ConfigDir)
	cfg.StorePath = expandPath(cfg.StorePath)

	return &cfg, nil
}

// loadEnvFile populates the process environment from the .env file.
// Variables that are already set win.
func (l *Loader) loadEnvFile() error {
	if l.envFile == "" {
		return nil
	}
	if err := godotenv.Load(l.envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading env file %s: %w", l.envFile, err)
	}
	return nil
}

// setDefaults sets default configuration values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("gateway_url", client.DefaultBaseURL)
	l.v.SetDefault("auth_prefix", client.DefaultAuthPrefix)
	l.v.SetDefault("api_prefix", client.DefaultAPIPrefix)
	l.v.SetDefault("request_timeout", client.DefaultTimeout)
	l.v.SetDefault("api_key", "")
	l.v.SetDefault("client_name", defaultClientName())
	l.v.SetDefault("dns", strings.Join(wireguard.DefaultDNS(), ","))
	l.v.SetDefault("mtu", wireguard.DefaultMTU)
	l.v.SetDefault("interface", "wg0")
	l.v.SetDefault("config_dir", "~/.erebrus")
	l.v.SetDefault("save_profiles", false)
	l.v.SetDefault("store_path", "~/.erebrus/profiles.db")
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "text")
}

// setupConfigPaths configures where to search for config files.
func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName(".erebrus")
	l.v.SetConfigType("yaml")

	// Search paths in priority order
	l.v.AddConfigPath("/etc/erebrus")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath(".")
}

// setupEnvVars configures environment variable handling.
func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	u, err := url.Parse(cfg.GatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid gateway_url: %s", cfg.GatewayURL)
	}

	if cfg.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s")
	}

	if cfg.Interface == "" {
		return fmt.Errorf("interface name is required")
	}

	if cfg.MTU != 0 && (cfg.MTU < 576 || cfg.MTU > 9000) {
		return fmt.Errorf("invalid mtu: %d (must be between 576 and 9000)", cfg.MTU)
	}

	if len(cfg.DNSServers()) == 0 {
		return fmt.Errorf("at least one dns server is required")
	}

	if cfg.SaveProfiles && cfg.StorePath == "" {
		return fmt.Errorf("store_path is required when save_profiles is enabled")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be trace, debug, info, warn, or error)", cfg.LogLevel)
	}

	// Validate log format
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", cfg.LogFormat)
	}

	return nil
}

func defaultClientName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "erebrus"
	}
	host = strings.ToLower(strings.Split(host, ".")[0])
	if len(host) > 8 {
		host = host[:8]
	}
	return host
}

// expandPath expands ~ to home directory in file paths.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if len(path) == 1 {
		return home
	}

	return filepath.Join(home, path[1:])
}
