package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/erebrus-connector/internal/connector"
	"github.com/chiquitav2/erebrus-connector/internal/connector/config"
	"github.com/chiquitav2/erebrus-connector/internal/connector/poller"
	"github.com/chiquitav2/erebrus-connector/internal/tunnel"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

const disconnectTimeout = 30 * time.Second

// connectCmd provisions a client and keeps the tunnel up until interrupted.
var connectCmd = &cobra.Command{
	Use:   "connect [node-id]",
	Short: "Connect to a VPN node",
	Long: `Provision a client on a node and bring the WireGuard tunnel up. Without
a node id the first active node, optionally limited to --region, is used.
A saved profile can be used instead with --profile.

The command stays in the foreground and disconnects on Ctrl+C. With
--detach it exits once connected; use 'erebrus disconnect' later.

Examples:
  erebrus connect
  erebrus connect --region SG
  erebrus connect 8f1c2d --name laptop
  erebrus connect --profile 3e5b --detach`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, conn, err := setup(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		profile, _ := cmd.Flags().GetString("profile")
		var state tunnel.State
		if profile != "" {
			state, err = conn.ConnectProfile(ctx, profile)
		} else {
			state, err = provisionAndConnect(ctx, cmd, args, cfg, conn)
		}
		if err != nil {
			if apperrors.IsRetryable(err) {
				return fmt.Errorf("connection failed, retrying may help: %w", err)
			}
			return fmt.Errorf("connection failed: %w", err)
		}

		_, status, _ := conn.Status(ctx)
		fmt.Printf("Connected!\n")
		fmt.Printf("   State: %s\n", state)
		fmt.Printf("   Tunnel: %s\n", status.TunnelState)

		if detach, _ := cmd.Flags().GetBool("detach"); detach {
			fmt.Printf("\nUse 'erebrus disconnect' to disconnect.\n")
			return nil
		}
		fmt.Printf("\nPress Ctrl+C to disconnect\n")

		interval, _ := cmd.Flags().GetDuration("poll-interval")
		monitor := poller.New(conn.Session(), interval, &statusPrinter{log: log}, log)
		go func() {
			if err := monitor.Start(ctx); err != nil && err != context.Canceled {
				log.Error("status monitoring error", "error", err)
			}
		}()

		<-ctx.Done()
		log.Info("received shutdown signal, disconnecting")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if _, err := conn.Disconnect(shutdownCtx); err != nil {
			log.Error("failed to disconnect cleanly", "error", err)
			return fmt.Errorf("disconnect failed: %w", err)
		}
		fmt.Printf("Disconnected.\n")
		return nil
	},
}

func provisionAndConnect(ctx context.Context, cmd *cobra.Command, args []string, cfg *config.Config, conn *connector.Connector) (tunnel.State, error) {
	if err := login(cmd, conn, cfg); err != nil {
		return conn.Session().State(), err
	}

	var nodeID string
	if len(args) > 0 {
		nodeID = args[0]
	} else {
		region, _ := cmd.Flags().GetString("region")
		nodes, err := conn.Nodes(ctx, region)
		if err != nil {
			return conn.Session().State(), err
		}
		if len(nodes) == 0 {
			return conn.Session().State(), apperrors.NewProvisioningError(apperrors.ErrCodeNodeNotSelected,
				fmt.Sprintf("no active node in region %q", region), false, nil)
		}
		nodeID = nodes[0].ID
		fmt.Printf("Using node %s (%s)\n", nodes[0].DisplayName(), nodes[0].Region)
	}

	name, _ := cmd.Flags().GetString("name")
	res, err := conn.Provision(ctx, nodeID, name)
	if err != nil {
		return conn.Session().State(), err
	}
	return conn.Connect(logger.WithNodeID(ctx, nodeID), res.Config)
}

// statusPrinter reports connectivity changes seen by the poller.
type statusPrinter struct {
	log *logger.Logger
}

func (p *statusPrinter) OnConnectionLost(last tunnel.Status) {
	fmt.Printf("Connection lost (tunnel %s)\n", last.TunnelState)
}

func (p *statusPrinter) OnConnectionRestored(current tunnel.Status) {
	fmt.Printf("Connection restored (tunnel %s)\n", current.TunnelState)
}

func (p *statusPrinter) OnPollError(err error) {
	p.log.Warn("status check failed", "error", err)
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringP("region", "r", "", "pick the first node in this region")
	connectCmd.Flags().StringP("name", "n", "", "client name (default: client_name setting)")
	connectCmd.Flags().StringP("profile", "p", "", "connect using a saved profile")
	connectCmd.Flags().BoolP("detach", "d", false, "exit once connected and leave the tunnel up")
	connectCmd.Flags().Duration("poll-interval", poller.DefaultInterval, "how often to check the tunnel")
}
