package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
)

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Bring the VPN tunnel down",
	Long: `Bring down a tunnel left up by 'erebrus connect --detach'. The
WireGuard configuration file holding the private key is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := conn.Teardown(cmd.Context()); err != nil {
			if apperrors.IsErrorCode(err, apperrors.ErrCodeNotReady) {
				fmt.Printf("Not connected\n")
				return nil
			}
			log.Error("disconnect failed", "error", err)
			return fmt.Errorf("disconnect failed: %w", err)
		}
		fmt.Printf("Disconnected.\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(disconnectCmd)
}
