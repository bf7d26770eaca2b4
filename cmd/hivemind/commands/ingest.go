package commands

import (
	"errors"

	"github.com/dyluth/hivemind/internal/git"
	"github.com/dyluth/hivemind/internal/ingest"
	"github.com/spf13/cobra"
)

var (
	ingestExts     []string
	ingestMaxBytes int64
	ingestRepoPath string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest DIR",
	Short: "Bulk-load files from a directory as semantic entries",
	Long: `Walk DIR and store each matching file as a semantic entry whose topic is
the file's relative path. Hidden directories are skipped. Files that would
exceed the aggregate size limit are skipped and reported.

Re-ingesting unchanged files is a no-op: they collapse onto the existing
entries as duplicates. Without --repo-path, the root of the Git working tree
containing DIR is recorded, if there is one.

Examples:
  hivemind ingest ./docs -w indexer
  hivemind ingest . -w indexer --ext .go --ext .md --repo-path github.com/acme/api`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringSliceVar(&ingestExts, "ext", nil, "File extension to include (repeatable, default common text types)")
	f.Int64Var(&ingestMaxBytes, "max-bytes", 0, "Aggregate size limit (overrides ingest.max_bytes)")
	f.StringVar(&ingestRepoPath, "repo-path", "", "Recorded as metadata repo_path (default Git root of DIR)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	ctx := cmd.Context()

	client, err := newClient(ctx, cmd)
	if err != nil {
		return err
	}

	maxBytes := cfg.Ingest.MaxBytes
	if ingestMaxBytes > 0 {
		maxBytes = ingestMaxBytes
	}

	repoPath := ingestRepoPath
	if repoPath == "" {
		checker := git.NewChecker()
		repoPath = checker.RepoPath(args[0])
		if repoPath != "" {
			if clean, err := checker.IsClean(args[0]); err == nil && !clean {
				p.Warning("%s has uncommitted changes; ingesting the working tree\n", repoPath)
			}
		}
	}

	p.Step("ingesting %s\n", args[0])
	report, runErr := ingest.Run(ctx, client, ingest.Options{
		Root:          args[0],
		Extensions:    ingestExts,
		MaxTotalBytes: maxBytes,
		RepoPath:      repoPath,
		Logger:        logger,
	})
	if runErr != nil && !errors.Is(runErr, ingest.ErrSizeLimit) {
		return p.Error("ingest failed", runErr.Error(), nil)
	}

	// Writes that failed with a gateway error sit in the retry buffer; give
	// them one more chance before the process exits.
	if retry := ingest.Retry(ctx, client, &report); retry.Succeeded > 0 {
		p.Step("recovered %d buffered write(s)\n", retry.Succeeded)
	}

	p.Success("%d stored, %d duplicate, %d bytes\n", report.Stored, report.Duplicates, report.Bytes)
	if n := len(report.SkippedType); n > 0 {
		p.Info("%d file(s) skipped as empty or binary\n", n)
	}
	for path, reason := range report.Failed {
		p.Warning("%s: %s\n", path, reason)
	}
	if errors.Is(runErr, ingest.ErrSizeLimit) {
		return p.Error(
			"ingest size limit reached",
			runErr.Error(),
			[]string{"Raise --max-bytes or ingest.max_bytes, or narrow --ext"},
		)
	}
	if n := len(client.Pending()); n > 0 {
		return p.Error("some writes were not stored", "", []string{"Check the service with 'hivemind health' and re-run ingest"})
	}
	return nil
}
