package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage saved tunnel profiles",
	Long: `Profiles are saved when save_profiles is enabled. Each holds the
configuration of one provisioned client, so a later 'erebrus connect
--profile <id>' reconnects without provisioning again. Any unique prefix of
a profile id is accepted.`,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		profiles, err := conn.Profiles(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		if len(profiles) == 0 {
			fmt.Printf("No saved profiles\n")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCLIENT\tNODE\tREGION\tADDRESS\tCREATED")
		for _, p := range profiles {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", shortID(p.ID), p.ClientName, p.NodeName,
				p.Region, p.Address, p.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved profile's WireGuard configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		profile, err := conn.Profile(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		fmt.Printf("# %s on %s (%s)\n", profile.ClientName, profile.NodeName, profile.ID)
		fmt.Println(profile.ConfigText)
		return nil
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		profile, err := conn.Profile(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		if err := conn.DeleteProfile(cmd.Context(), profile.ID); err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		fmt.Printf("Deleted profile %s\n", profile.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesListCmd, profilesShowCmd, profilesDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
