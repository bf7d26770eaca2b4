package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/hivemind/internal/render"
	"github.com/dyluth/hivemind/internal/watch"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

var (
	watchKind   string
	watchTags   []string
	watchSource string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream entries as they are stored",
	Long: `Follow the store's entry events and print each new entry as it is written.

watch subscribes to Redis directly (redis.url / redis.namespace); the HTTP
API has no streaming endpoint.

Examples:
  hivemind watch
  hivemind watch --tag swarm_event
  hivemind watch --kind procedural --source planner -o jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchKind, "kind", "", "Only entries of this kind")
	f.StringSliceVarP(&watchTags, "tag", "t", nil, "Require tag (repeatable)")
	f.StringVar(&watchSource, "source", "", "Only entries whose source contains this")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	kind, err := parseKind(watchKind)
	if err != nil {
		return p.Error("invalid kind", err.Error(), []string{"Valid kinds: semantic, episodic, procedural"})
	}
	format, err := render.ParseFormat(outputFlag)
	if err != nil {
		return p.Error("invalid output format", err.Error(), nil)
	}
	if format == render.FormatYAML {
		return p.Error("invalid output format", "watch supports table and jsonl", nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore("")
	if err != nil {
		return p.Error("failed to open store", err.Error(), nil)
	}
	defer st.Close()

	sub, err := st.SubscribeEntryEvents(ctx)
	if err != nil {
		return p.ErrorWithContext("failed to subscribe", err.Error(), map[string]string{"Redis": cfg.Redis.URL}, nil)
	}
	defer sub.Close()

	p.Step("watching namespace %s\n", st.Namespace())

	out := cmd.OutOrStdout()
	emit := func(e knowledge.Entry) error {
		if format == render.FormatJSONL {
			raw, err := knowledge.ToRawEntry(e)
			if err != nil {
				return err
			}
			data, err := json.Marshal(raw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s\n", data)
			return err
		}
		_, err := fmt.Fprintln(out, watch.FormatEntry(e))
		return err
	}

	err = watch.Stream(ctx, sub, watch.Filter{Kind: kind, Tags: watchTags, Source: watchSource}, emit,
		func(err error) { logger.Warn("skipping undecodable entry event", "error", err) })
	if err != nil && ctx.Err() == nil {
		return p.Error("watch stopped", err.Error(), nil)
	}
	return nil
}
