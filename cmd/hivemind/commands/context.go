package commands

import (
	"encoding/json"

	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

var eventData string

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Load the startup context for this worker",
	Long: `Load the knowledge a worker needs at startup: its best patterns, confident
learnings, recent swarm events and its inbox. Sections that cannot be loaded
are shown empty.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRenderer(cmd)
		if err != nil {
			return err
		}
		client, err := newClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		return r.Snapshot(client.LoadContext(cmd.Context()))
	},
}

var eventCmd = &cobra.Command{
	Use:     "event EVENT_KIND",
	Short:   "Log a swarm event",
	Example: `  hivemind event task_started -w coder --data '{"task_id":"T-7"}'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)

		var data any
		if eventData != "" {
			var raw json.RawMessage
			if err := json.Unmarshal([]byte(eventData), &raw); err != nil {
				return p.Error("invalid event data", err.Error(), []string{"--data must be a JSON value"})
			}
			data = raw
		}

		client, err := newClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		if err := client.LogEvent(cmd.Context(), args[0], data, nil); err != nil {
			if knowledge.IsValidationError(err) {
				return p.Error("invalid event", err.Error(), nil)
			}
			return gatewayError(cmd, "failed to log event", err)
		}
		p.Success("event %s logged\n", args[0])
		return nil
	},
}

func init() {
	eventCmd.Flags().StringVar(&eventData, "data", "", "Event data as JSON")
	rootCmd.AddCommand(contextCmd, eventCmd)
}
