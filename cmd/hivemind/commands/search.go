package commands

import (
	"strings"
	"time"

	"github.com/dyluth/hivemind/internal/timespec"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

var (
	searchKind  string
	searchTags  []string
	searchSelf  bool
	searchLimit int
	searchSince string
	searchUntil string
)

var searchCmd = &cobra.Command{
	Use:   "search [QUERY...]",
	Short: "Search the knowledge store",
	Long: `Search entries by free-text query, kind and tags.

Tags are ANDed. --self restricts results to entries written by this worker
type. Results keep the store's ranking.

Time Filters:
  --since  - Only entries at or after this time
  --until  - Only entries before this time
  Both accept a duration ("2h", "7d") or RFC3339. Time filters apply to the
  results returned under --limit.

Examples:
  hivemind search -w coder "redis pipelines"
  hivemind search -w coder --kind procedural --tag pattern --self
  hivemind search -w coder deploy --since 24h -o jsonl | jq .topic`,
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchKind, "kind", "", "Filter by kind")
	f.StringSliceVarP(&searchTags, "tag", "t", nil, "Require tag (repeatable)")
	f.BoolVar(&searchSelf, "self", false, "Only entries from this worker type")
	f.IntVarP(&searchLimit, "limit", "l", knowledge.DefaultSearchLimit, "Maximum results")
	f.StringVar(&searchSince, "since", "", "Only entries after time (duration or RFC3339)")
	f.StringVar(&searchUntil, "until", "", "Only entries before time (duration or RFC3339)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	kind, err := parseKind(searchKind)
	if err != nil {
		return p.Error("invalid kind", err.Error(), []string{"Valid kinds: semantic, episodic, procedural"})
	}
	window, err := timespec.ParseRange(searchSince, searchUntil, time.Now())
	if err != nil {
		return p.Error("invalid time filter", err.Error(), nil)
	}
	r, err := newRenderer(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	entries := client.Search(cmd.Context(), knowledge.SearchRequest{
		Query:    strings.Join(args, " "),
		Limit:    searchLimit,
		Kind:     kind,
		Tags:     searchTags,
		OnlySelf: searchSelf,
	})

	if !window.IsZero() {
		filtered := entries[:0]
		for _, e := range entries {
			if window.Contains(e.Timestamp) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return r.Entries(entries)
}
