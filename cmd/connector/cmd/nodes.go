package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List active VPN nodes",
	Long: `List the active nodes known to the gateway. Nodes without a region
are never shown.

Examples:
  erebrus nodes
  erebrus nodes --region SG`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := login(cmd, conn, cfg); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}

		region, _ := cmd.Flags().GetString("region")
		nodes, err := conn.Nodes(cmd.Context(), region)
		if err != nil {
			return fmt.Errorf("failed to fetch nodes: %w", err)
		}
		if len(nodes) == 0 {
			fmt.Printf("No active nodes found\n")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tREGION\tLOCATION\tTYPE")
		for _, n := range nodes {
			location := n.City
			if n.Country != "" && location != "" {
				location += ", " + n.Country
			} else if n.Country != "" {
				location = n.Country
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.DisplayName(), n.Region, location, n.NodeType)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(nodesCmd)

	nodesCmd.Flags().StringP("region", "r", "", "only show nodes in this region")
}
