package commands

import (
	"fmt"

	"github.com/dyluth/hivemind/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configInitPath  string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage hivemind.yml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default hivemind.yml",
	Long: `Write a configuration file holding every key at its default value.

An existing file is left untouched unless --force is given.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		if err := config.WriteDefault(configInitPath, configInitForce); err != nil {
			return p.Error(
				"failed to initialise configuration",
				err.Error(),
				[]string{"Use --force to overwrite an existing file"},
			)
		}
		p.Success("Wrote %s\n", configInitPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after defaults, file, environment and flags are applied.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitPath, "path", config.DefaultFile, "Where to write the file")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
