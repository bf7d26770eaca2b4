package commands

import (
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the knowledge service is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newGateway().Health(cmd.Context()); err != nil {
			return gatewayError(cmd, "knowledge service unhealthy", err)
		}
		newPrinter(cmd).Success("knowledge service healthy at %s\n", cfg.Gateway.URL)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge store counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRenderer(cmd)
		if err != nil {
			return err
		}
		stats, err := newGateway().Stats(cmd.Context())
		if err != nil {
			return gatewayError(cmd, "failed to read stats", err)
		}
		return r.Stats(stats)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
}
