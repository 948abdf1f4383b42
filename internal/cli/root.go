package cli

import (
	"fmt"
	"strings"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var rootCommand = &cobra.Command{
	Use:     "convergectl",
	Aliases: []string{"converge"},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'version' and 'help' never need configuration
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if configFile == "" {
			return nil
		}
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		return nil
	},
	Short: "convergectl: retrying, polling cloud mutations for pipelines",
	Long: `convergectl submits cloud mutations (load balancer backend pool membership,
volume snapshots), retries transient submission failures with jittered backoff
and polls the backend until the change has converged.

Results are reported as Azure Pipelines logging commands on stdout.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCommand.Execute()
}

// bindFlag binds a flag to a configuration key; the env var is CONVERGE_<KEY>.
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(flag)
	}
	_ = viper.BindPFlag(key, f)
}

func init() {
	rootCommand.AddGroup(&cobra.Group{ID: "converge", Title: "Convergent operations"})

	d := config.Defaults()
	flags := rootCommand.PersistentFlags()

	flags.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flags.String("log-level", d.LogLevel, "Logging level (debug, info, warn, error)")
	flags.Duration("timeout", 0, "Global execution timeout (0 = run indefinitely)")
	flags.Int("parallelism", d.Parallelism, "Number of operations run concurrently")
	flags.Bool("timeout-is-warning", false, "Report a convergence timeout as SucceededWithIssues instead of Failed")

	flags.Int("max-attempts", d.Retry.MaxAttempts, "Submission attempts per operation, including re-submissions")
	flags.Duration("backoff-min", d.Retry.BackoffMin, "Lower bound of the retry delay")
	flags.Duration("backoff-max", d.Retry.BackoffMax, "Upper bound of the retry delay")
	flags.Bool("per-attempt-jitter", false, "Draw a new retry delay for every attempt")
	flags.Int("max-poll-attempts", d.Poll.MaxPollAttempts, "Status checks before an operation times out")
	flags.Duration("poll-interval", d.Poll.PollInterval, "Delay before each status check")

	flags.String("webhook-url", "", "Webhook URL for failure alerts")
	flags.String("webhook-username", "", "Webhook username for failure alerts")
	flags.String("webhook-password", "", "Webhook password for failure alerts")

	// Bind to config keys and env vars
	for key, flag := range map[string]string{
		"log_level":                "log-level",
		"timeout":                  "timeout",
		"parallelism":              "parallelism",
		"timeout_is_warning":       "timeout-is-warning",
		"retry.max_attempts":       "max-attempts",
		"retry.backoff_min":        "backoff-min",
		"retry.backoff_max":        "backoff-max",
		"retry.per_attempt_jitter": "per-attempt-jitter",
		"poll.max_poll_attempts":   "max-poll-attempts",
		"poll.poll_interval":       "poll-interval",
		"webhook.url":              "webhook-url",
		"webhook.username":         "webhook-username",
		"webhook.password":         "webhook-password",
	} {
		bindFlag(rootCommand, key, flag)
	}

	viper.SetEnvPrefix("CONVERGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
