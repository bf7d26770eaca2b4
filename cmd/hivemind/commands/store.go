package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

var (
	storeTopic            string
	storeContent          string
	storeFile             string
	storeKind             string
	storeTags             []string
	storeTaskID           string
	storeAgentRole        string
	storeRepoPath         string
	storeFilePath         string
	storeAttrs            []string
	storeMetadataIdentity bool
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a knowledge entry",
	Long: `Store one entry in the shared knowledge store.

The worker type and "swarm_memory" are always added as tags. Non-empty
--task-id, --agent-role, --repo-path and --file-path are also promoted to
key:value tags. Storing the same topic, content and source twice returns the
existing entry as a duplicate.

Examples:
  hivemind store -w coder --topic "go modules" --content "run go mod tidy before commit"
  hivemind store -w coder --topic runbook --file docs/runbook.md --kind procedural
  git log -1 | hivemind store -w coder --topic "last commit" --file - --kind episodic`,
	Args: cobra.NoArgs,
	RunE: runStore,
}

func init() {
	f := storeCmd.Flags()
	f.StringVar(&storeTopic, "topic", "", "Entry topic (required)")
	f.StringVar(&storeContent, "content", "", "Entry content")
	f.StringVar(&storeFile, "file", "", "Read content from file ('-' for stdin)")
	f.StringVar(&storeKind, "kind", string(knowledge.KindSemantic), "Kind: semantic, episodic or procedural")
	f.StringSliceVarP(&storeTags, "tag", "t", nil, "Tag (repeatable)")
	f.StringVar(&storeTaskID, "task-id", "", "Metadata task_id")
	f.StringVar(&storeAgentRole, "agent-role", "", "Metadata agent_role")
	f.StringVar(&storeRepoPath, "repo-path", "", "Metadata repo_path")
	f.StringVar(&storeFilePath, "file-path", "", "Metadata file_path")
	f.StringSliceVar(&storeAttrs, "attr", nil, "Metadata attribute key=value (repeatable)")
	f.BoolVar(&storeMetadataIdentity, "metadata-identity", false, "Include metadata in the identity hash")
	storeCmd.MarkFlagRequired("topic")
	storeCmd.MarkFlagsMutuallyExclusive("content", "file")

	rootCmd.AddCommand(storeCmd)
}

func runStore(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	content := storeContent
	if storeFile != "" {
		data, err := readInput(cmd, storeFile)
		if err != nil {
			return p.Error("failed to read content", err.Error(), nil)
		}
		content = string(data)
	}

	kind, err := parseKind(storeKind)
	if err != nil {
		return p.Error("invalid kind", err.Error(), []string{"Valid kinds: semantic, episodic, procedural"})
	}
	attrs, err := parseAttrs(storeAttrs)
	if err != nil {
		return p.Error("invalid attribute", err.Error(), nil)
	}

	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	res, err := client.Store(cmd.Context(), knowledge.StoreRequest{
		Topic:   storeTopic,
		Content: content,
		Kind:    kind,
		Tags:    storeTags,
		Metadata: knowledge.Metadata{
			TaskID:     storeTaskID,
			AgentRole:  storeAgentRole,
			RepoPath:   storeRepoPath,
			FilePath:   storeFilePath,
			Attributes: attrs,
		},
		MetadataIdentity: storeMetadataIdentity,
	})
	if err != nil {
		if knowledge.IsValidationError(err) {
			return p.Error("invalid entry", err.Error(), nil)
		}
		return gatewayError(cmd, "failed to store entry", err)
	}

	describeResult(cmd, "entry", res)
	return nil
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
