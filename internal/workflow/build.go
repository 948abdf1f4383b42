package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud/azure"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud/openstack"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/config"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/notifications"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/vso"
)

// Builder turns configured operation entries into cloud operations.
// Provider clients are created on first use and shared by every entry.
type Builder struct {
	Config config.Config
	Logger *slog.Logger

	// AzureOptions are passed to azure.NewClient.
	AzureOptions []azure.ClientOption

	azureClient     *azure.Client
	openstackClient *openstack.Client
}

// Build expands every entry of Config.Operations. An Azure entry yields one
// operation per network interface.
func (b *Builder) Build(ctx context.Context) ([]cloud.Operation, error) {
	var ops []cloud.Operation

	for i, spec := range b.Config.Operations {
		switch strings.ToLower(spec.Provider) {
		case config.ProviderAzure:
			built, err := b.azureOperations(spec)
			if err != nil {
				return nil, fmt.Errorf("operations[%d]: %w", i, err)
			}
			ops = append(ops, built...)

		case config.ProviderOpenStack:
			client, err := b.openstack(ctx)
			if err != nil {
				return nil, fmt.Errorf("operations[%d]: %w", i, err)
			}
			ops = append(ops, client.SnapshotOperation(spec.VolumeID, spec.SnapshotName, spec.Metadata))

		default:
			return nil, fmt.Errorf("operations[%d]: unknown provider %q", i, spec.Provider)
		}
	}

	return ops, nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b *Builder) azureOperations(spec config.OperationSpec) ([]cloud.Operation, error) {
	action, err := azure.ParseAction(spec.Action)
	if err != nil {
		return nil, err
	}

	if b.azureClient == nil {
		opts := append([]azure.ClientOption{azure.WithLogger(b.logger())}, b.AzureOptions...)
		client, err := azure.NewClient(b.Config.Azure, opts...)
		if err != nil {
			return nil, fmt.Errorf("azure client initialization failed: %w", err)
		}
		b.azureClient = client
	}

	ops := make([]cloud.Operation, 0, len(spec.NetworkInterfaces))
	for _, nic := range spec.NetworkInterfaces {
		ops = append(ops, b.azureClient.BackendPoolOperation(azure.BackendPoolRequest{
			Action:           action,
			ResourceGroup:    spec.ResourceGroup,
			LoadBalancer:     spec.LoadBalancer,
			NetworkInterface: nic,
			Pools:            spec.Pools,
		}))
	}
	return ops, nil
}

func (b *Builder) openstack(ctx context.Context) (*openstack.Client, error) {
	if b.openstackClient != nil {
		return b.openstackClient, nil
	}

	client := &openstack.Client{
		ProfileName: b.Config.OpenStack.Cloud,
		RetryConfig: b.Config.Retry,
		Logger:      b.logger().With("cloud_profile", b.Config.OpenStack.Cloud),
	}
	if err := client.NewClient(ctx); err != nil {
		return nil, fmt.Errorf("openstack client initialization failed: %w", err)
	}
	b.openstackClient = client
	return client, nil
}

// RunConfigured builds the configured operations and runs them once,
// bounded by cfg.Timeout when it is set.
func RunConfigured(ctx context.Context, cfg config.Config, logger *slog.Logger, reporter *vso.Writer) (Summary, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		logger.Debug("Global run timeout configured", "timeout", cfg.Timeout.Round(time.Second))
	}

	builder := &Builder{Config: cfg, Logger: logger}
	ops, err := builder.Build(ctx)
	if err != nil {
		logger.Error("Failed to prepare operations", "error", err)
		return Summary{}, err
	}
	if len(ops) == 0 {
		logger.Warn("No operations configured")
	}

	return RunOperations(ctx, Options{
		Retry:            cfg.Retry,
		Poll:             cfg.Poll,
		Parallelism:      cfg.Parallelism,
		TimeoutIsWarning: cfg.TimeoutIsWarning,
		Notifier:         webhook(cfg.Webhook, logger),
		Reporter:         reporter,
		Logger:           logger,
	}, ops)
}

func webhook(c config.WebhookConfig, logger *slog.Logger) *notifications.Webhook {
	return &notifications.Webhook{
		URL:      c.URL,
		Username: c.Username,
		Password: c.Password,
		Logger:   logger,
	}
}
