package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/erebrus-connector/internal/connector/config"
)

// setupCmd writes a starter configuration file
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create a default configuration file",
	Long: `Create ~/.erebrus.yaml with the default settings. Flags given here,
such as --gateway-url or --api-key, are written into the file.

Examples:
  # Create default configuration
  erebrus setup

  # Keep an API key from 'erebrus auth' and save profiles
  erebrus setup --api-key <key> --save-profiles`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Setting up Erebrus...\n\n")

		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			var err error
			if path, err = config.DefaultConfigPath(); err != nil {
				return fmt.Errorf("failed to create configuration: %w", err)
			}
		}

		loader := config.NewLoader().WithEnvFile("")
		for flag, key := range flagKeys {
			if value, _ := cmd.Flags().GetString(flag); value != "" {
				loader.Set(key, value)
			}
		}
		if save, _ := cmd.Flags().GetBool("save-profiles"); save {
			loader.Set("save_profiles", true)
		}

		if err := loader.WriteDefaultConfig(path); err != nil {
			if !errors.Is(err, config.ErrConfigExists) {
				return fmt.Errorf("failed to create configuration: %w", err)
			}
			fmt.Printf("Configuration already exists\n")
			fmt.Printf("Edit %s to customize settings\n\n", path)
		} else {
			fmt.Printf("Created %s\n\n", path)
		}

		cfg, err := config.LoadWithPath(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Printf("Current Configuration:\n")
		fmt.Printf("=====================\n")
		fmt.Printf("Gateway URL: %s\n", cfg.GatewayURL)
		fmt.Printf("Client name: %s\n", cfg.ClientName)
		fmt.Printf("Interface: %s\n", cfg.Interface)
		fmt.Printf("DNS: %s\n", cfg.DNS)
		fmt.Printf("MTU: %d\n", cfg.MTU)
		fmt.Printf("Save profiles: %t\n", cfg.SaveProfiles)
		fmt.Printf("Log Level: %s\n", cfg.LogLevel)

		fmt.Printf("\nNext Steps:\n")
		fmt.Printf("===========\n")
		fmt.Printf("1. List nodes: erebrus nodes\n")
		fmt.Printf("2. Connect: sudo erebrus connect --region <region>\n")
		fmt.Printf("3. Check status: erebrus status\n")
		fmt.Printf("4. Disconnect: sudo erebrus disconnect\n\n")

		fmt.Printf("Tips:\n")
		fmt.Printf("   - Use EREBRUS_* environment variables to override settings\n")
		fmt.Printf("   - wg-quick must be installed to bring tunnels up\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().Bool("save-profiles", false, "enable the profile store in the written configuration")
}
