package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision <node-id>",
	Short: "Provision a WireGuard client on a node",
	Long: `Generate fresh keys, register a client on the given node and print the
resulting WireGuard configuration. The configuration contains the private
key; use --output to write it to an owner-only file instead.

Examples:
  erebrus provision 8f1c2d
  erebrus provision 8f1c2d --name laptop --output erebrus.conf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := login(cmd, conn, cfg); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}

		name, _ := cmd.Flags().GetString("name")
		res, err := conn.Provision(cmd.Context(), args[0], name)
		if err != nil {
			return fmt.Errorf("provisioning failed: %w", err)
		}
		log.Info("client provisioned", "node_id", res.NodeID, "client_name", res.ClientName)

		output, _ := cmd.Flags().GetString("output")
		if output != "" {
			if err := conn.ExportConfig(output, res.Result); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Configuration written to %s\n", output)
		} else {
			fmt.Println(res.ConfigText)
		}

		if res.Profile != nil {
			fmt.Printf("Saved as profile %s\n", res.Profile.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)

	provisionCmd.Flags().StringP("name", "n", "", "client name (default: client_name setting)")
	provisionCmd.Flags().StringP("output", "o", "", "write the configuration to this file")
}
