package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Register with the gateway and print a bearer token",
	Long: `Create an organisation on the Erebrus gateway, or reuse the configured
API key, and exchange it for a bearer token.

The token can be passed to later commands with --token or EREBRUS_TOKEN so
they skip the handshake.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		cred, err := conn.Authenticate(cmd.Context())
		if err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}

		fmt.Printf("Authenticated\n")
		fmt.Printf("   API key: %s\n", cred.APIKey)
		fmt.Printf("   Token:   %s\n", cred.BearerToken)
		if !cred.ExpiresAt.IsZero() {
			fmt.Printf("   Expires: %s\n", cred.ExpiresAt.Local().Format(time.RFC1123))
		}
		fmt.Printf("\nexport EREBRUS_API_KEY=%s\n", cred.APIKey)
		fmt.Printf("export EREBRUS_TOKEN=%s\n", cred.BearerToken)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
