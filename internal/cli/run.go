package cli

import (
	"fmt"
	"os"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/config"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/vso"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCommand = &cobra.Command{
	Use:     "run",
	GroupID: "converge",
	Short:   "Execute every operation listed in the config file once",
	Long:    `Reads the operations list from the config file, drives each operation to convergence and reports the combined result to the pipeline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("convergectl - Run"))

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		return execute(cmd, cfg, "run")
	},
}

// loadWith decodes the current settings, replaces the configured operations
// with ops and validates the result.
func loadWith(ops ...config.OperationSpec) (config.Config, error) {
	cfg, err := config.Decode(viper.AllSettings())
	if err != nil {
		return config.Config{}, err
	}
	cfg.Operations = ops
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// execute runs cfg's operations and reports to the task host on stdout.
func execute(cmd *cobra.Command, cfg config.Config, component string) error {
	logger := workflow.SetupLogger(cfg.LogLevel, component)
	summary, err := workflow.RunConfigured(cmd.Context(), cfg, logger, vso.NewWriter(os.Stdout))
	if summary.RunID != "" {
		fmt.Println(renderSummary(summary))
	}
	return err
}

func init() {
	rootCommand.AddCommand(runCommand)
}
