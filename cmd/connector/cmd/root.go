package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/erebrus-connector/internal/connector"
	"github.com/chiquitav2/erebrus-connector/internal/connector/config"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "erebrus",
	Short: "Connect to Erebrus VPN nodes over WireGuard",
	Long: `erebrus registers with the Erebrus gateway, lists the available VPN
nodes, provisions a WireGuard client on one of them and brings the tunnel up.

Settings are read from ~/.erebrus.yaml, a .env file and EREBRUS_*
environment variables, in that order of increasing priority.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.erebrus.yaml)")
	rootCmd.PersistentFlags().String("gateway-url", "", "Erebrus gateway URL")
	rootCmd.PersistentFlags().String("api-key", "", "organisation API key to exchange for a token")
	rootCmd.PersistentFlags().String("token", "", "bearer token from an earlier 'erebrus auth' (env: EREBRUS_TOKEN)")
	rootCmd.PersistentFlags().String("interface", "", "WireGuard interface name")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"gateway-url": "gateway_url",
	"api-key":     "api_key",
	"interface":   "interface",
	"log-level":   "log_level",
	"log-format":  "log_format",
}

// loadConfig loads configuration and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		cfg, err := config.LoadWithPath(path)
		if err != nil {
			return nil, err
		}
		applyFlags(cmd, cfg)
		return cfg, nil
	}

	loader := config.NewLoader()
	for flag, key := range flagKeys {
		if value, _ := cmd.Flags().GetString(flag); value != "" {
			loader.Set(key, value)
		}
	}
	return loader.Load()
}

// applyFlags copies flag overrides onto a config loaded from an explicit path.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("gateway-url"); v != "" {
		cfg.GatewayURL = v
	}
	if v, _ := cmd.Flags().GetString("api-key"); v != "" {
		cfg.APIKey = v
	}
	if v, _ := cmd.Flags().GetString("interface"); v != "" {
		cfg.Interface = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
}

// setup loads configuration and builds a logger and connector. The caller
// closes the connector.
func setup(cmd *cobra.Command) (*config.Config, *logger.Logger, *connector.Connector, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Version = version
	log := logger.New(loggerConfig)

	conn, err := connector.New(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, conn, nil
}

// login restores a token passed on the command line or environment, or
// runs the gateway handshake.
func login(cmd *cobra.Command, conn *connector.Connector, cfg *config.Config) error {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv(config.EnvPrefix + "_TOKEN")
	}
	if token != "" {
		conn.Restore(cfg.APIKey, token)
		return nil
	}
	_, err := conn.Authenticate(cmd.Context())
	return err
}
