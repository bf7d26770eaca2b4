package commands

import (
	"fmt"
	"log/slog"

	"github.com/dyluth/hivemind/internal/config"
	"github.com/dyluth/hivemind/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Global flags
var (
	configPath     string
	workerTypeFlag string
	instanceIDFlag string
	gatewayFlag    string
	outputFlag     string
	verboseFlag    bool
)

// Loaded by PersistentPreRunE for every command not annotated skipConfig.
var (
	cfg    *config.Config
	logger *slog.Logger
)

const skipConfig = "skip-config"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "Hivemind - shared knowledge layer for agent swarms",
	Long: `Hivemind lets independent swarm workers persist, deduplicate and exchange
facts, execution patterns, learnings and inter-worker messages through one
remote knowledge store reached over HTTP.

Run "hivemind serve" to start the Redis-backed reference store, then use the
other commands as any worker would.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
	PersistentPreRunE:  loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ./hivemind.yml if present)")
	pf.StringVarP(&workerTypeFlag, "worker-type", "w", "", "Worker type (overrides worker.type)")
	pf.StringVar(&instanceIDFlag, "instance-id", "", "Worker instance id (overrides worker.instance_id)")
	pf.StringVar(&gatewayFlag, "gateway", "", "Knowledge service URL (overrides gateway.url)")
	pf.StringVarP(&outputFlag, "output", "o", "table", "Output format: table, jsonl or yaml")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return newPrinter(cmd).Error(
			"failed to load configuration",
			err.Error(),
			[]string{
				"Run 'hivemind config init' to create a default hivemind.yml",
				"Check HIVEMIND_* environment variables",
			},
		)
	}

	if workerTypeFlag != "" {
		loaded.Worker.Type = workerTypeFlag
	}
	if instanceIDFlag != "" {
		loaded.Worker.InstanceID = instanceIDFlag
	}
	if gatewayFlag != "" {
		loaded.Gateway.URL = gatewayFlag
	}
	if verboseFlag {
		loaded.Logging.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return newPrinter(cmd).Error("invalid configuration", err.Error(), nil)
	}

	l, err := logging.New(loaded.Logging.Level, loaded.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg = loaded
	logger = l
	return nil
}
