package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show VPN connection status",
	Long: `Show whether the WireGuard tunnel is up and the state of its peer:
- up: handshake within the last three minutes
- handshaking: no handshake yet
- stale: last handshake is older
- down: interface not present`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		_, status, err := conn.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("Interface: %s\n", cfg.Interface)
		fmt.Printf("Tunnel: %s\n", status.TunnelState)
		if status.Error != "" {
			fmt.Printf("Error: %s\n", status.Error)
		}
		if status.Connected {
			fmt.Println("Status: Connected")
		} else {
			fmt.Println("Status: Disconnected")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("json", false, "print the status as JSON")
}
