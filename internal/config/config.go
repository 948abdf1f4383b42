// Package config decodes convergectl settings from viper (flags, CONVERGE_*
// environment variables and an optional YAML config file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
	"github.com/spf13/viper"
)

const (
	ProviderAzure     = "azure"
	ProviderOpenStack = "openstack"
)

// OperationSpec describes one entry of the operations list.
// Azure entries expand to one operation per network interface.
type OperationSpec struct {
	Provider string `mapstructure:"provider"`

	// Azure load balancer membership
	Action            string   `mapstructure:"action"`
	ResourceGroup     string   `mapstructure:"resource_group"`
	LoadBalancer      string   `mapstructure:"load_balancer"`
	NetworkInterfaces []string `mapstructure:"network_interfaces"`
	Pools             []string `mapstructure:"pools"`

	// OpenStack volume snapshot
	VolumeID     string            `mapstructure:"volume_id"`
	SnapshotName string            `mapstructure:"snapshot_name"`
	Metadata     map[string]string `mapstructure:"metadata"`
}

type OpenStackConfig struct {
	// Cloud is the clouds.yaml profile name.
	Cloud string `mapstructure:"cloud"`
}

type WebhookConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type DaemonConfig struct {
	Schedule    string `mapstructure:"schedule"`
	BindAddress string `mapstructure:"bind_address"`
}

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	// Timeout bounds a whole run. Zero means no limit.
	Timeout          time.Duration `mapstructure:"timeout"`
	Parallelism      int           `mapstructure:"parallelism"`
	TimeoutIsWarning bool          `mapstructure:"timeout_is_warning"`

	Retry cloud.RetryConfig `mapstructure:"retry"`
	Poll  cloud.PollConfig  `mapstructure:"poll"`

	Azure     cloud.ServicePrincipal `mapstructure:"azure"`
	OpenStack OpenStackConfig        `mapstructure:"openstack"`
	Webhook   WebhookConfig          `mapstructure:"webhook"`
	Daemon    DaemonConfig           `mapstructure:"daemon"`

	Operations []OperationSpec `mapstructure:"operations"`
}

// Defaults returns the configuration used for every key that is not set.
func Defaults() Config {
	retry := converge.DefaultRetryPolicy()
	poll := converge.DefaultPollPolicy()
	return Config{
		LogLevel:    "info",
		Parallelism: 4,
		Retry: cloud.RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			BackoffMin:  retry.BackoffMin,
			BackoffMax:  retry.BackoffMax,
		},
		Poll: cloud.PollConfig{
			MaxPollAttempts: poll.MaxPollAttempts,
			PollInterval:    poll.PollInterval,
		},
		Daemon: DaemonConfig{
			Schedule:    "*/15 * * * *",
			BindAddress: "0.0.0.0:8080",
		},
	}
}

// Decode overlays settings (as returned by viper.AllSettings) onto Defaults.
// Durations accept Go duration strings, lists accept comma separated strings.
func Decode(settings map[string]any) (Config, error) {
	cfg := Defaults()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, err
	}

	if err := decoder.Decode(settings); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks policies and every operation entry.
func (c Config) Validate() error {
	var errs []error

	if err := c.Retry.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := c.Poll.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("poll: %w", err))
	}
	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}

	for i, op := range c.Operations {
		if err := op.validate(c); err != nil {
			errs = append(errs, fmt.Errorf("operations[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func (op OperationSpec) validate(c Config) error {
	switch strings.ToLower(op.Provider) {
	case ProviderAzure:
		switch {
		case op.ResourceGroup == "":
			return errors.New("resource_group is required")
		case op.LoadBalancer == "":
			return errors.New("load_balancer is required")
		case len(op.NetworkInterfaces) == 0:
			return errors.New("at least one network interface is required")
		case c.Azure.SubscriptionID == "":
			return errors.New("azure.subscription_id is required for azure operations")
		}
		switch strings.ToLower(op.Action) {
		case "add", "connect", "remove", "disconnect":
		default:
			return fmt.Errorf("unknown action %q", op.Action)
		}
	case ProviderOpenStack:
		switch {
		case op.VolumeID == "":
			return errors.New("volume_id is required")
		case op.SnapshotName == "":
			return errors.New("snapshot_name is required")
		case c.OpenStack.Cloud == "":
			return errors.New("openstack.cloud is required for openstack operations")
		}
	default:
		return fmt.Errorf("unknown provider %q", op.Provider)
	}
	return nil
}
