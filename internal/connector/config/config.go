package config

import (
	"strings"
	"time"

	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// Config holds the connector application configuration.
type Config struct {
	GatewayURL     string        `mapstructure:"gateway_url"`
	AuthPrefix     string        `mapstructure:"auth_prefix"`
	APIPrefix      string        `mapstructure:"api_prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	APIKey         string        `mapstructure:"api_key"`

	ClientName string `mapstructure:"client_name"`
	DNS        string `mapstructure:"dns"`
	MTU        int    `mapstructure:"mtu"`

	Interface string `mapstructure:"interface"`
	ConfigDir string `mapstructure:"config_dir"`

	SaveProfiles bool   `mapstructure:"save_profiles"`
	StorePath    string `mapstructure:"store_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DNSServers splits the comma separated DNS setting.
func (c *Config) DNSServers() []string {
	var out []string
	for _, s := range strings.Split(c.DNS, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoggerConfig maps the log settings onto a logger configuration.
func (c *Config) LoggerConfig() logger.LoggerConfig {
	lc := logger.DefaultConfig()
	lc.Level = logger.ParseLevel(c.LogLevel)
	lc.Format = logger.OutputFormat(c.LogFormat)
	return lc
}
